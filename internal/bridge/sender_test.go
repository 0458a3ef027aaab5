package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPSenderPostsPayload(t *testing.T) {
	var got outboundPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "tok", log.New(io.Discard, "", 0))
	if err := s.Send(context.Background(), "u1", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.UserID != "u1" || got.Message != "hello" {
		t.Errorf("payload = %+v", got)
	}
	if auth != "Bearer tok" {
		t.Errorf("auth = %q", auth)
	}
}

func TestHTTPSenderNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "", log.New(io.Discard, "", 0))
	if err := s.Send(context.Background(), "u1", "hello"); err == nil {
		t.Error("non-2xx status should return an error")
	}
}

type recordingLog struct {
	rows []string
}

func (r *recordingLog) LogMessage(userID, direction, content string) {
	r.rows = append(r.rows, direction+":"+content)
}

type failingSender struct{}

func (failingSender) Send(context.Context, string, string) error { return errors.New("down") }

func TestLoggedRecordsEvenOnFailure(t *testing.T) {
	msgs := &recordingLog{}
	l := NewLogged(failingSender{}, msgs, log.New(io.Discard, "", 0))
	if err := l.Send(context.Background(), "u1", "hi"); err == nil {
		t.Error("delivery failure should surface")
	}
	if len(msgs.rows) != 1 || msgs.rows[0] != "outbound:hi" {
		t.Errorf("audit rows = %v", msgs.rows)
	}
}
