package bank

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one booked entry as reported by the bank API.
type Transaction struct {
	ExternalID  string          `json:"id"`
	BookedAt    time.Time       `json:"bookedAt"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// TransactionPage is one page of GET /connections/{ref}/transactions.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Page         int           `json:"page"`
	TotalPages   int           `json:"totalPages"`
}

type connectionStatus struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

const statusActive = "active"

// StatusError is a non-2xx response from the bank API.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bank api returned HTTP %d for %s", e.Code, e.Path)
}

// Temporary reports whether a retry could succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}

// ErrInactive is returned by Probe when the bank reports the link as unusable.
var ErrInactive = errors.New("bank connection inactive")
