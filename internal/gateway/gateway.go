// Package gateway talks to the raw message source. The Source interface
// is the seam the rest of the system depends on; the IMAP implementation
// lives alongside it.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCursorInvalid indicates the source rejected the incremental
	// cursor (invalidated, expired or unsupported); callers fall back
	// to a bounded rescan.
	ErrCursorInvalid = errors.New("cursor invalid")
	// ErrFetchFailed indicates a source request failed
	ErrFetchFailed = errors.New("fetch failed")
	// ErrThreadUnavailable indicates the thread lookup returned nothing usable
	ErrThreadUnavailable = errors.New("thread unavailable")
)

// AuthType selects the account authentication mechanism
type AuthType string

const (
	// AuthTypePassword uses IMAP LOGIN
	AuthTypePassword AuthType = "password"
	// AuthTypeOAuth2 uses SASL XOAUTH2 with token refresh
	AuthTypeOAuth2 AuthType = "oauth2"
)

// Account holds the connection settings for one source account
type Account struct {
	Address    string   `json:"address"`
	IMAPHost   string   `json:"imap_host"`
	IMAPPort   int      `json:"imap_port"`
	UseSSL     bool     `json:"use_ssl"`
	Username   string   `json:"username"`
	Password   string   `json:"password,omitempty"`
	AuthType   AuthType `json:"auth_type"`
	OAuth      *OAuth   `json:"oauth,omitempty"`
}

// OAuth holds the refresh credentials for an oauth2 account
type OAuth struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	TokenURL     string `json:"token_url,omitempty"`
}

// RawMessage is a fetched message before cleaning
type RawMessage struct {
	MessageID      string
	ThreadID       string
	From           string
	To             string
	Subject        string
	Date           time.Time
	Body           string
	HasAttachments bool
}

// ChangeSet is the result of one fetch. Cursor is the new sync position
// the source reported, or empty when the source did not report one.
type ChangeSet struct {
	Messages []RawMessage
	Cursor   string
}

// ThreadMessage is one message of a fetched thread, envelope only
type ThreadMessage struct {
	MessageID string
	From      string
	Date      time.Time
}

// Thread is an ordered view of a conversation
type Thread struct {
	Messages []ThreadMessage
}

// Source is the opaque message source. All three operations carry a
// bounded timeout through ctx and return either a payload or a failure;
// there is no partial or streaming contract.
type Source interface {
	// ChangesSince fetches messages changed since the cursor.
	// Returns ErrCursorInvalid when the cursor cannot be honored.
	ChangesSince(ctx context.Context, account Account, cursor string) (*ChangeSet, error)
	// Search fetches messages within a recency window
	Search(ctx context.Context, account Account, since time.Time) (*ChangeSet, error)
	// Thread fetches the ordered conversation a message belongs to
	Thread(ctx context.Context, account Account, threadID string) (*Thread, error)
}
