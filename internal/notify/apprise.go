// Package notify delivers supervisor crash notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/http"
)

const (
	maxBodyLength = 1000
)

// AppriseClient posts supervisor events to an Apprise API server. With a key
// it uses the server's stored configuration (/notify/<key>); without one it
// sends the target URLs along with every message (/notify).
type AppriseClient struct {
	url        string
	key        string
	tag        string
	targets    []string
	httpClient *http.Client
	logger     *slog.Logger
}

// AppriseOption configures an AppriseClient.
type AppriseOption func(*AppriseClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) AppriseOption {
	return func(a *AppriseClient) {
		a.httpClient = client
	}
}

// WithTag limits delivery to the Apprise services carrying tag.
func WithTag(tag string) AppriseOption {
	return func(a *AppriseClient) {
		a.tag = tag
	}
}

// WithTargets sets the Apprise URLs used when no key is configured.
func WithTargets(urls []string) AppriseOption {
	return func(a *AppriseClient) {
		a.targets = urls
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AppriseOption {
	return func(a *AppriseClient) {
		a.logger = logger
	}
}

// NewAppriseClient creates a client for the server at url.
func NewAppriseClient(url, key string, opts ...AppriseOption) *AppriseClient {
	a := &AppriseClient{
		url:        strings.TrimSuffix(url, "/"),
		key:        key,
		httpClient: http.NewClient(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

type appriseRequest struct {
	URLs  string `json:"urls,omitempty"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

func (a *AppriseClient) endpoint() string {
	if a.key == "" {
		return a.url + "/notify"
	}
	return a.url + "/notify/" + a.key
}

// Notify delivers one notification.
func (a *AppriseClient) Notify(ctx context.Context, n *domain.Notification) error {
	if a.key == "" && len(a.targets) == 0 {
		return fmt.Errorf("apprise has neither a key nor target urls")
	}

	payload, err := json.Marshal(appriseRequest{
		URLs:  strings.Join(a.targets, ","),
		Title: n.Title,
		Body:  truncate(n.Body, maxBodyLength),
		Type:  a.mapLevel(n.Level),
		Tag:   a.tag,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	endpoint := a.endpoint()
	a.logger.Debug("sending notification", "endpoint", endpoint, "title", n.Title, "level", n.Level)

	resp, err := a.httpClient.Post(ctx, endpoint, "application/json", payload)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("apprise returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	return nil
}

// Validate checks that the Apprise server answers, trying the key's details
// page first and the server root after.
func (a *AppriseClient) Validate(ctx context.Context) error {
	probes := []string{a.url}
	if a.key != "" {
		probes = []string{a.url + "/details/" + a.key, a.url}
	}

	var err error
	for _, probe := range probes {
		if err = a.httpClient.CheckConnectivity(ctx, probe); err == nil {
			return nil
		}
	}
	return fmt.Errorf("apprise server not reachable at %s: %w", a.url, err)
}

// mapLevel maps a notification level to an Apprise message type.
func (a *AppriseClient) mapLevel(level domain.NotificationLevel) string {
	switch level {
	case domain.NotificationLevelWarning:
		return "warning"
	case domain.NotificationLevelError:
		return "failure"
	default:
		return "info"
	}
}

// truncate shortens s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Ensure AppriseClient implements domain.Notifier.
var _ domain.Notifier = (*AppriseClient)(nil)
