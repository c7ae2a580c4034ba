// internal/trigger/webhook.go
package trigger

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/colebrumley/cardmask/internal/config"
)

// maxWebhookBody bounds the body read from a webhook request.
const maxWebhookBody = 1 << 20

// Webhook errors returned by HandleRequest.
var (
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrBadSecret        = errors.New("missing or wrong secret")
	ErrQueueFull        = errors.New("event queue full")
)

// Webhook handles HTTP webhook triggers
type Webhook struct {
	passive
	listenPath     string
	allowedMethods map[string]bool
	requireSecret  bool
	secretHeader   string
	secret         string
}

// NewWebhook creates a new webhook trigger
func NewWebhook(jobName string, cfg config.Trigger) (*Webhook, error) {
	methods := make(map[string]bool)
	for _, m := range cfg.AllowedMethods {
		methods[m] = true
	}

	var secret string
	if cfg.RequireSecret && cfg.SecretEnvVar != "" {
		secret = os.Getenv(cfg.SecretEnvVar)
		if secret == "" {
			return nil, errors.New("webhook secret env var " + cfg.SecretEnvVar + " is empty")
		}
	}

	header := http.CanonicalHeaderKey(cfg.SecretHeader)
	if header == "" {
		header = "X-Cardmask-Secret"
	}

	return &Webhook{
		passive:        passive{job: jobName},
		listenPath:     cfg.ListenPath,
		allowedMethods: methods,
		requireSecret:  cfg.RequireSecret,
		secretHeader:   header,
		secret:         secret,
	}, nil
}

func (w *Webhook) ListenPath() string {
	return w.listenPath
}

// HandleRequest checks an incoming request and queues an event for it. A
// JSON body with a file_path field names the file to mask.
func (w *Webhook) HandleRequest(r *http.Request, events chan<- Event) error {
	if len(w.allowedMethods) > 0 && !w.allowedMethods[r.Method] {
		return ErrMethodNotAllowed
	}

	if w.requireSecret {
		got := r.Header.Get(w.secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(w.secret)) != 1 {
			return ErrBadSecret
		}
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 && k != w.secretHeader {
			headers[k] = v[0]
		}
	}

	data := map[string]any{
		"http_body":    string(body),
		"http_headers": headers,
		"http_method":  r.Method,
		"http_path":    r.URL.Path,
	}

	var payload struct {
		FilePath string `json:"file_path"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil && payload.FilePath != "" {
		data["file_path"] = payload.FilePath
	}

	if !send(events, w.event("webhook", data)) {
		return ErrQueueFull
	}
	return nil
}
