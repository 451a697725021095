// Package notify pushes short alerts to an ntfy-style HTTP topic.
// Delivery is best-effort: failures are logged, never fatal to a cycle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrPushFailed indicates the notification could not be delivered
	ErrPushFailed = errors.New("notification push failed")
)

// Notifier posts free-text messages to a configured target URL
type Notifier struct {
	targetURL  string
	httpClient *http.Client
}

// New creates a Notifier. An empty targetURL disables pushes.
func New(targetURL string, timeout time.Duration) *Notifier {
	return &Notifier{
		targetURL:  strings.TrimSpace(targetURL),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled returns whether a push target is configured
func (n *Notifier) Enabled() bool {
	return n.targetURL != ""
}

// Push delivers one notification with a title and body. The returned
// error is for logging; callers never treat it as fatal.
func (n *Notifier) Push(ctx context.Context, title, body string) error {
	if !n.Enabled() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.targetURL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPushFailed, err)
	}
	req.Header.Set("Title", title)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		log.Printf("[Notify] Push failed: %v", err)
		return fmt.Errorf("%w: %v", ErrPushFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Notify] Push rejected with status %d", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrPushFailed, resp.StatusCode)
	}
	return nil
}
