package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxTries = 3
	defaultWorkers  = 4
	maxPages        = 1000
)

// Client talks to the bank aggregation API. Every call is retried with
// exponential backoff; 4xx responses other than 429 fail immediately.
type Client struct {
	baseURL    string
	client     *http.Client
	maxTries   uint
	workers    int
	newBackOff func() backoff.BackOff
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   http.DefaultClient,
		maxTries: defaultMaxTries,
		workers:  defaultWorkers,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithMaxTries bounds the attempts per request, including the first.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithWorkers sets how many transaction pages are fetched concurrently.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = fn }
}

// Probe checks that the bank still accepts the linked account. It returns
// ErrInactive when the API answers but reports the link unusable.
func (c *Client) Probe(ctx context.Context, ref string) error {
	path := "/connections/" + url.PathEscape(ref) + "/status"

	status, err := retry(ctx, c, func() (connectionStatus, error) {
		var s connectionStatus
		err := c.getJSON(ctx, path, nil, &s)
		return s, err
	})
	if err != nil {
		return fmt.Errorf("probe %s: %w", ref, err)
	}
	if !strings.EqualFold(status.Status, statusActive) {
		if status.Reason != "" {
			return fmt.Errorf("%w: %s (%s)", ErrInactive, status.Status, status.Reason)
		}
		return fmt.Errorf("%w: %s", ErrInactive, status.Status)
	}
	return nil
}

// FetchTransactions returns a single page of transactions booked at or after
// since. Pages are numbered from 1.
func (c *Client) FetchTransactions(ctx context.Context, ref string, since time.Time, page int) (*TransactionPage, error) {
	path := "/connections/" + url.PathEscape(ref) + "/transactions"
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	q.Set("page", strconv.Itoa(page))

	return retry(ctx, c, func() (*TransactionPage, error) {
		var p TransactionPage
		if err := c.getJSON(ctx, path, q, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// FetchAll reads the first page to learn the page count, then fetches the
// rest concurrently. The result keeps page order.
func (c *Client) FetchAll(ctx context.Context, ref string, since time.Time) ([]Transaction, error) {
	first, err := c.FetchTransactions(ctx, ref, since, 1)
	if err != nil {
		return nil, err
	}
	total := min(max(first.TotalPages, 1), maxPages)

	pages := make([][]Transaction, total)
	pages[0] = first.Transactions

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := 1; i < total; i++ {
		g.Go(func() error {
			p, err := c.FetchTransactions(gctx, ref, since, i+1)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			pages[i] = p.Transactions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Transaction
	for _, p := range pages {
		all = append(all, p...)
	}
	slog.Info("fetched bank transactions", "ref", ref, "pages", total, "count", len(all))
	return all, nil
}

func retry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return v, backoff.Permanent(err)
			}
			slog.Debug("bank api call failed", "error", err)
		}
		return v, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxTries))
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req) //nolint:gosec // URL built from internal config
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, res.Body)
		return &StatusError{Code: res.StatusCode, Path: path}
	}

	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}
