// Package webhook delivers the on_success / on_failure notifications fired
// when a build reaches a terminal status.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/build"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/resolver"
)

// Notifier posts build outcome notifications. Delivery is best effort: a
// failed or slow webhook never affects the build result.
type Notifier struct {
	client *http.Client
}

// New creates a Notifier with a bounded request timeout.
func New(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{client: &http.Client{Timeout: timeout}}
}

// Notify resolves the URL template and sends a bodyless POST. An empty
// template is a no-op. Failures are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, urlTemplate string, payload map[string]any, result *build.Result, socketToken string) {
	if n == nil || urlTemplate == "" {
		return
	}
	url := resolver.WebhookURL(urlTemplate, payload, result, socketToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		slog.Warn("Invalid webhook URL", logfields.Error(err))
		return
	}

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("Webhook delivery failed", logfields.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("Webhook returned error status",
			logfields.HTTPStatus(resp.StatusCode))
		return
	}
	slog.Debug("Webhook delivered", logfields.HTTPStatus(resp.StatusCode))
}
