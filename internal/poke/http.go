package poke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultHTTPTimeout bounds one webhook delivery.
const DefaultHTTPTimeout = 5 * time.Second

// HTTPNotifier posts pokes to the webhook of an external fan-out service.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

// NewHTTPNotifier returns a notifier posting to url. A nil client uses one
// with DefaultHTTPTimeout.
func NewHTTPNotifier(url string, client *http.Client) *HTTPNotifier {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPNotifier{url: url, client: client}
}

// Poke posts {"space", "subspaceIDs"}. Any non-2xx status is an error.
func (n *HTTPNotifier) Poke(ctx context.Context, space string, subspaceIDs []string) error {
	body, err := json.Marshal(newMessage(space, subspaceIDs))
	if err != nil {
		return fmt.Errorf("encode poke: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build poke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post poke: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post poke: unexpected status %s", resp.Status)
	}
	log.WithFields(log.Fields{
		"space":     space,
		"subspaces": subspaceIDs,
	}).Debug("poke posted")
	return nil
}
