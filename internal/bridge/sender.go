// Package bridge delivers outbound messages to users through the messaging
// bridge HTTP endpoint.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// GenericFailure is the user-facing text for any internal failure. Internal
// detail stays in the logs and never crosses the conversational boundary.
const GenericFailure = "Sorry, something went wrong on my side. Please try again."

// Sender delivers one message to one user.
type Sender interface {
	Send(ctx context.Context, userID, message string) error
}

// MessageLog records message traffic for audit.
type MessageLog interface {
	LogMessage(userID, direction, content string)
}

// HTTPSender posts messages to the bridge endpoint as JSON.
type HTTPSender struct {
	url    string
	token  string
	client *http.Client
	logger *log.Logger
}

// NewHTTPSender creates a sender for the bridge at url. token may be empty
// when the bridge is unauthenticated.
func NewHTTPSender(url, token string, logger *log.Logger) *HTTPSender {
	return &HTTPSender{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type outboundPayload struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

func (s *HTTPSender) Send(ctx context.Context, userID, message string) error {
	body, err := json.Marshal(outboundPayload{UserID: userID, Message: message})
	if err != nil {
		return fmt.Errorf("encode bridge payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to bridge: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bridge returned %s", resp.Status)
	}
	return nil
}

// Logged wraps a Sender with outbound message audit logging. Delivery
// failures are logged and surfaced; the audit row is written either way so
// the transcript shows what the system tried to say.
type Logged struct {
	inner  Sender
	msgs   MessageLog
	logger *log.Logger
}

// NewLogged wraps inner with audit logging into msgs.
func NewLogged(inner Sender, msgs MessageLog, logger *log.Logger) *Logged {
	return &Logged{inner: inner, msgs: msgs, logger: logger}
}

func (l *Logged) Send(ctx context.Context, userID, message string) error {
	l.msgs.LogMessage(userID, "outbound", message)
	if err := l.inner.Send(ctx, userID, message); err != nil {
		l.logger.Printf("Bridge: delivery to %s failed: %v", userID, err)
		return err
	}
	return nil
}

// Nop discards messages. Used when no bridge is configured.
type Nop struct{}

func (Nop) Send(context.Context, string, string) error { return nil }
