package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestClient(baseURL string, retries int) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewClient(&Config{
		BaseURL:     baseURL,
		AccessToken: "token-123",
		Timeout:     2 * time.Second,
		MaxRetries:  retries,
		RetryDelay:  time.Millisecond,
	}, logger)
}

func TestClient_SendDirectMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody sendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(sendMessageResponse{MessageID: "m_1"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 0)
	err := client.SendDirectMessage(context.Background(), "ig_17890", "t_401", "Danke für deine Nachricht!")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/ig_17890/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer token-123" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody.Recipient.ThreadID != "t_401" || gotBody.Message.Text != "Danke für deine Nachricht!" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestClient_SendDirectMessageValidation(t *testing.T) {
	client := newTestClient("http://never-called.invalid", 0)

	if err := client.SendDirectMessage(context.Background(), "", "t", "x"); err == nil {
		t.Fatal("empty channel must fail")
	}
	if err := client.SendDirectMessage(context.Background(), "c", "", "x"); err == nil {
		t.Fatal("empty thread must fail")
	}
	if err := client.SendDirectMessage(context.Background(), "c", "t", ""); err == nil {
		t.Fatal("empty text must fail")
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(sendMessageResponse{MessageID: "m_2"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	if err := client.SendDirectMessage(context.Background(), "c", "t", "x"); err != nil {
		t.Fatalf("send after retries: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("hits = %d, want 3", got)
	}
}

func TestClient_ClientErrorsAreFinal(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "invalid thread", "code": 100},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 3)
	err := client.SendDirectMessage(context.Background(), "c", "t", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	re, ok := err.(*RequestError)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if re.Status != http.StatusBadRequest || re.Message != "invalid thread" || re.Code != 100 {
		t.Fatalf("unexpected error: %+v", re)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("hits = %d, 4xx must not be retried", got)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 0)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}
