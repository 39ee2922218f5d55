package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o-2024-08-06"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Model: "m"}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Error("expected error without model")
	}
}

func TestComplete_JSONSchema(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization=%q", got)
		}

		var req struct {
			Model          string    `json:"model"`
			Messages       []Message `json:"messages"`
			ResponseFormat struct {
				Type       string `json:"type"`
				JSONSchema struct {
					Name   string          `json:"name"`
					Schema json.RawMessage `json:"schema"`
				} `json:"json_schema"`
			} `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "gpt-4o-2024-08-06" {
			t.Errorf("model=%q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages=%+v", req.Messages)
		}
		if req.ResponseFormat.Type != "json_schema" || req.ResponseFormat.JSONSchema.Name != "details" {
			t.Errorf("response format=%+v", req.ResponseFormat)
		}
		if string(req.ResponseFormat.JSONSchema.Schema) != `{"type":"object"}` {
			t.Errorf("schema=%s", req.ResponseFormat.JSONSchema.Schema)
		}

		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	})

	got, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "Extract."},
		{Role: "user", Content: "User: hi"},
	}, &JSONSchema{Name: "details", Schema: json.RawMessage(`{"type":"object"}`)})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("content=%q", got)
	}
}

func TestComplete_Refusal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,"refusal":"I can't help with that."}}]}`))
	})
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}}, nil)
	if !errors.Is(err, ErrRefused) {
		t.Errorf("err=%v, want ErrRefused", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	if _, err := c.Complete(context.Background(), nil, nil); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestComplete_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}}, nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Code != "rate_limit_exceeded" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestComplete_PlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	})

	_, err := c.Complete(context.Background(), nil, nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream unavailable" {
		t.Errorf("err=%v", err)
	}
}
