// internal/trigger/webhook_test.go
package trigger

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/colebrumley/cardmask/internal/config"
)

func TestWebhookTrigger(t *testing.T) {
	triggerCfg := config.Trigger{
		Type:           "webhook",
		ListenPath:     "/hooks/test",
		AllowedMethods: []string{"POST"},
	}

	trigger, err := NewWebhook("test-job", triggerCfg)
	if err != nil {
		t.Fatalf("NewWebhook failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/hooks/test", strings.NewReader(`{"file_path":"/var/log/pay.log"}`))
	req.Header.Set("Content-Type", "application/json")

	events := make(chan Event, 10)
	if err := trigger.HandleRequest(req, events); err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}

	select {
	case event := <-events:
		if event.JobName != "test-job" {
			t.Errorf("expected job name test-job, got %s", event.JobName)
		}
		if event.Type != "webhook" {
			t.Errorf("expected event type webhook, got %s", event.Type)
		}
		if event.Data["file_path"] != "/var/log/pay.log" {
			t.Errorf("unexpected file_path: %v", event.Data["file_path"])
		}
	default:
		t.Fatal("expected an event")
	}
}

func TestWebhookTrigger_NonJSONBody(t *testing.T) {
	trigger, _ := NewWebhook("job", config.Trigger{ListenPath: "/h"})
	req := httptest.NewRequest("POST", "/h", strings.NewReader("plain text"))
	events := make(chan Event, 1)
	if err := trigger.HandleRequest(req, events); err != nil {
		t.Fatal(err)
	}
	ev := <-events
	if _, ok := ev.Data["file_path"]; ok {
		t.Error("non-JSON body should not set file_path")
	}
	if ev.Data["http_body"] != "plain text" {
		t.Errorf("unexpected body %v", ev.Data["http_body"])
	}
}

func TestWebhookTriggerMethodNotAllowed(t *testing.T) {
	triggerCfg := config.Trigger{
		Type:           "webhook",
		ListenPath:     "/hooks/test",
		AllowedMethods: []string{"POST"},
	}

	trigger, _ := NewWebhook("test-job", triggerCfg)

	req := httptest.NewRequest("GET", "/hooks/test", nil)
	events := make(chan Event, 10)

	if err := trigger.HandleRequest(req, events); !errors.Is(err, ErrMethodNotAllowed) {
		t.Fatalf("expected ErrMethodNotAllowed, got %v", err)
	}
	if len(events) != 0 {
		t.Error("unexpected event for disallowed method")
	}
}

func TestWebhookTriggerSecret(t *testing.T) {
	t.Setenv("HOOK_SECRET", "hunter2")
	trigger, err := NewWebhook("job", config.Trigger{
		ListenPath:    "/h",
		RequireSecret: true,
		SecretEnvVar:  "HOOK_SECRET",
	})
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan Event, 1)

	req := httptest.NewRequest("POST", "/h", nil)
	req.Header.Set("X-Cardmask-Secret", "wrong")
	if err := trigger.HandleRequest(req, events); !errors.Is(err, ErrBadSecret) {
		t.Fatalf("expected ErrBadSecret, got %v", err)
	}

	req = httptest.NewRequest("POST", "/h", nil)
	req.Header.Set("X-Cardmask-Secret", "hunter2")
	if err := trigger.HandleRequest(req, events); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	ev := <-events
	headers := ev.Data["http_headers"].(map[string]string)
	if _, ok := headers["X-Cardmask-Secret"]; ok {
		t.Error("secret header must not be forwarded in event data")
	}
}

func TestWebhookTriggerEmptySecretEnv(t *testing.T) {
	t.Setenv("EMPTY_SECRET", "")
	_, err := NewWebhook("job", config.Trigger{ListenPath: "/h", RequireSecret: true, SecretEnvVar: "EMPTY_SECRET"})
	if err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestWebhookTriggerQueueFull(t *testing.T) {
	trigger, _ := NewWebhook("job", config.Trigger{ListenPath: "/h"})
	events := make(chan Event)
	req := httptest.NewRequest("POST", "/h", nil)
	if err := trigger.HandleRequest(req, events); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWebhookTriggerCustomSecretHeader(t *testing.T) {
	t.Setenv("HOOK_SECRET", "s3")
	trigger, err := NewWebhook("job", config.Trigger{
		ListenPath:    "/h",
		RequireSecret: true,
		SecretEnvVar:  "HOOK_SECRET",
		SecretHeader:  "x-hook-token",
	})
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan Event, 1)
	req := httptest.NewRequest("POST", "/h", nil)
	req.Header.Set("X-Hook-Token", "s3")
	if err := trigger.HandleRequest(req, events); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	headers := (<-events).Data["http_headers"].(map[string]string)
	if _, ok := headers["X-Hook-Token"]; ok {
		t.Error("custom secret header must not be forwarded in event data")
	}
}
