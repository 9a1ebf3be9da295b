package connection

import (
	"time"
)

type Status string

const (
	StatusConnected    Status = "CONNECTED"
	StatusSyncing      Status = "SYNCING"
	StatusDisconnected Status = "DISCONNECTED"
	StatusError        Status = "ERROR"
)

// Connection links a client's bank account to the aggregation provider.
type Connection struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"clientId"`
	AccountID   string     `json:"accountId"`
	BankName    string     `json:"bankName"`
	ExternalRef string     `json:"externalRef"`
	Status      Status     `json:"status"`
	LastSync    *time.Time `json:"lastSync,omitempty"`
	// CurrentTaskID is the DATA_SYNC task in flight while SYNCING.
	CurrentTaskID string    `json:"currentTaskId,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Active reports whether the connection holds its account's live link.
func (c *Connection) Active() bool {
	return c.Status == StatusConnected || c.Status == StatusSyncing
}

// Update is applied by Repository.Transition. Nil fields are left unchanged.
type Update struct {
	Status    Status
	LastSync  *time.Time
	LastError *string
	// TaskID sets CurrentTaskID in the same write; ClearTask drops it.
	TaskID    string
	ClearTask bool
	At        time.Time
}

// SyncResults is stored as the results of a completed DATA_SYNC task.
type SyncResults struct {
	Fetched  int   `json:"fetched"`
	Inserted int64 `json:"inserted"`
}
