package connection

import (
	"strings"

	"github.com/ahmethakanbesel/treasury-api/internal/apperror"
)

type CreateRequest struct {
	ClientID    string `json:"clientId"`
	AccountID   string `json:"accountId"`
	BankName    string `json:"bankName"`
	ExternalRef string `json:"externalRef"`
}

func (r CreateRequest) Validate() *apperror.AppError {
	switch {
	case strings.TrimSpace(r.ClientID) == "":
		return apperror.New(apperror.BadRequest, "clientId is required")
	case strings.TrimSpace(r.AccountID) == "":
		return apperror.New(apperror.BadRequest, "accountId is required")
	case strings.TrimSpace(r.BankName) == "":
		return apperror.New(apperror.BadRequest, "bankName is required")
	case strings.TrimSpace(r.ExternalRef) == "":
		return apperror.New(apperror.BadRequest, "externalRef is required")
	}
	return nil
}

// TestResult is the outcome of a provider health probe.
type TestResult struct {
	Healthy    bool        `json:"healthy"`
	Error      string      `json:"error,omitempty"`
	Connection *Connection `json:"connection"`
}
