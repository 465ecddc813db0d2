package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// User-facing chat messages
const (
	msgChatConnection = "Could not connect to AIDA API server. Please check if the server is running."
	msgChatTimeout    = "Request timed out. Please try again."
	msgChatUnexpected = "An unexpected error occurred. Please try again."
)

// ChatRequest is a widget chat message. ERPCredentials may be a JSON
// object or a string holding one.
type ChatRequest struct {
	Message        string          `json:"message"`
	SessionID      string          `json:"session_id,omitempty"`
	UserHash       string          `json:"user_hash,omitempty"`
	ERPCredentials json.RawMessage `json:"erp_credentials,omitempty"`
}

// Chat forwards a message to the AIDA server. A 200 reply is returned
// verbatim; every failure becomes an error envelope.
func (c *Client) Chat(ctx context.Context, req ChatRequest) Response {
	start := time.Now()
	baseURL := c.baseURL(ctx)

	payload := map[string]interface{}{
		"user_input": req.Message,
		"session_id": nullable(req.SessionID),
	}
	if req.UserHash != "" {
		payload["user_hash"] = req.UserHash
	}

	creds, err := parseCredentials(req.ERPCredentials)
	if err != nil {
		return c.chatFailure(baseURL, start, &UnexpectedError{Err: err})
	}
	if creds != nil {
		payload["erp_credentials"] = creds
	}

	reply, err := c.do(ctx, http.MethodPost, baseURL, "/chat", payload, c.chatTimeout)
	if err != nil {
		return c.chatFailure(baseURL, start, err)
	}
	if reply.StatusCode != http.StatusOK {
		return c.chatFailure(baseURL, start, &UpstreamHTTPError{StatusCode: reply.StatusCode, Body: string(reply.Body)})
	}

	body := bytes.TrimSpace(reply.Body)
	if !json.Valid(body) {
		return c.chatFailure(baseURL, start, &UnexpectedError{Err: errors.New("chat reply is not valid JSON")})
	}

	c.observe(OpChat, start, OutcomeSuccess)
	return Passthrough(json.RawMessage(body))
}

func (c *Client) chatFailure(baseURL string, start time.Time, err error) Response {
	c.logFailure(OpChat, baseURL, start, err)
	c.observe(OpChat, start, outcomeOf(err))

	var upstream *UpstreamHTTPError
	switch {
	case errors.As(err, &upstream):
		return ErrorEnvelope(fmt.Sprintf("API server returned error: %d", upstream.StatusCode))
	case outcomeOf(err) == OutcomeConnection:
		return ErrorEnvelope(msgChatConnection)
	case outcomeOf(err) == OutcomeTimeout:
		return ErrorEnvelope(msgChatTimeout)
	default:
		return ErrorEnvelope(msgChatUnexpected)
	}
}

// parseCredentials accepts an embedded JSON value or a string containing
// JSON. Empty input and null yield nil.
func parseCredentials(raw json.RawMessage) (interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid erp_credentials: %w", err)
	}

	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	if s == "" {
		return nil, nil
	}
	var inner interface{}
	if err := json.Unmarshal([]byte(s), &inner); err != nil {
		return nil, fmt.Errorf("invalid erp_credentials string: %w", err)
	}
	return inner, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
