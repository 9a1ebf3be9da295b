package client

import (
	"context"
	"time"
)

// Client is the read-only view of a treasury client this service needs:
// who owns it and therefore receives its notifications.
type Client struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID string    `json:"ownerUserId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Repository interface {
	Create(ctx context.Context, c *Client) error
	Get(ctx context.Context, id string) (*Client, error)
}

// Directory resolves clients to their owning user.
type Directory struct {
	repo Repository
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

func (d *Directory) Owner(ctx context.Context, clientID string) (string, error) {
	c, err := d.repo.Get(ctx, clientID)
	if err != nil {
		return "", err
	}
	return c.OwnerUserID, nil
}
