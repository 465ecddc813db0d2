package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf16"

	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/sirupsen/logrus"
)

// User-facing session messages. Failures never echo upstream text.
const (
	msgPasswordRequired   = "Password is required for session initialization. Please configure your credentials in the widget settings."
	msgSessionInitFailed  = "Session initialization failed. Please check your AIDA server configuration and ERPNext credentials."
	msgSessionConnection  = "Could not connect to AIDA API server. Please check if the server is running."
	msgSessionInitTimeout = "Session initialization timed out. Please try again."
	msgSessionInitError   = "An unexpected error occurred during session initialization."
	msgStatusTimeout      = "Session status check timed out. Please try again."
	msgStatusError        = "An unexpected error occurred during session status check."
	msgSessionIDRequired  = "session_id is required"
)

// CallContext is the caller identity a bridge call runs under
type CallContext struct {
	Principal auth.Principal
	SiteURL   string
}

// SessionInit carries the credentials forwarded to /init_session. Empty
// ERPNextURL and Username are filled from the CallContext.
type SessionInit struct {
	ERPNextURL string `json:"erpnext_url,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	UserHash   string `json:"user_hash,omitempty"`
}

// InitializeSession opens or restores an upstream session. A missing
// password fails before any network call.
func (c *Client) InitializeSession(ctx context.Context, cc CallContext, in SessionInit) Response {
	if in.Password == "" {
		c.log.WithField("user", cc.Principal.User).Warn("Session initialization rejected: password missing")
		c.recorder.ObserveUpstream(OpInitSession, OutcomeRejected, 0)
		return ErrorEnvelope(msgPasswordRequired)
	}

	start := time.Now()
	baseURL := c.baseURL(ctx)

	erpURL := in.ERPNextURL
	if erpURL == "" {
		erpURL = cc.SiteURL
	}
	username := in.Username
	if username == "" {
		username = cc.Principal.User
	}

	payload := map[string]interface{}{
		"erpnext_url":     erpURL,
		"username":        username,
		"password":        in.Password,
		"site_base_url":   erpURL,
		"restore_session": true,
	}
	if in.UserHash != "" {
		payload["user_hash"] = in.UserHash
	}

	reply, err := c.do(ctx, http.MethodPost, baseURL, "/init_session", payload, c.chatTimeout)
	if err == nil && reply.StatusCode != http.StatusOK {
		err = &UpstreamHTTPError{StatusCode: reply.StatusCode, Body: string(reply.Body)}
	}

	var result map[string]interface{}
	if err == nil {
		if jerr := json.Unmarshal(reply.Body, &result); jerr != nil {
			err = &UnexpectedError{Err: fmt.Errorf("init_session reply is not a JSON object: %w", jerr)}
		}
	}

	if err != nil {
		c.logFailure(OpInitSession, baseURL, start, err)
		c.observe(OpInitSession, start, outcomeOf(err))

		switch outcomeOf(err) {
		case OutcomeUpstream:
			return ErrorEnvelope(msgSessionInitFailed)
		case OutcomeConnection:
			return ErrorEnvelope(msgSessionConnection)
		case OutcomeTimeout:
			return ErrorEnvelope(msgSessionInitTimeout)
		default:
			return ErrorEnvelope(msgSessionInitError)
		}
	}

	c.observe(OpInitSession, start, OutcomeSuccess)
	c.log.WithFields(logrus.Fields{
		"user":     username,
		"restored": valueOr(result, "restored", false),
	}).Info("AIDA session initialized")

	return Envelope(map[string]interface{}{
		"success":    true,
		"session_id": result["session_id"],
		"message":    valueOr(result, "message", "Session initialized successfully"),
		"restored":   valueOr(result, "restored", false),
	})
}

// CheckSessionStatus asks the AIDA server whether sessionID is alive.
// Results are never cached. A non-200 reply reports the session as
// inactive rather than as an error.
func (c *Client) CheckSessionStatus(ctx context.Context, sessionID string) Response {
	if sessionID == "" {
		return ErrorEnvelope(msgSessionIDRequired)
	}

	start := time.Now()
	baseURL := c.baseURL(ctx)

	reply, err := c.do(ctx, http.MethodGet, baseURL, "/session_status/"+url.PathEscape(sessionID), nil, c.checkTimeout)
	if err == nil && reply.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{
			"session_id":  sessionID,
			"status_code": reply.StatusCode,
		}).Info("Session status check returned non-200")
		c.observe(OpSessionStatus, start, OutcomeUpstream)
		return Envelope(map[string]interface{}{
			"active":  false,
			"message": fmt.Sprintf("Session check failed with status: %d", reply.StatusCode),
		})
	}

	var result map[string]interface{}
	if err == nil {
		if jerr := json.Unmarshal(reply.Body, &result); jerr != nil {
			err = &UnexpectedError{Err: fmt.Errorf("session_status reply is not a JSON object: %w", jerr)}
		}
	}

	if err != nil {
		c.logFailure(OpSessionStatus, baseURL, start, err)
		c.observe(OpSessionStatus, start, outcomeOf(err))

		switch outcomeOf(err) {
		case OutcomeConnection:
			return ErrorEnvelope(msgSessionConnection)
		case OutcomeTimeout:
			return ErrorEnvelope(msgStatusTimeout)
		default:
			return ErrorEnvelope(msgStatusError)
		}
	}

	c.observe(OpSessionStatus, start, OutcomeSuccess)
	return Envelope(map[string]interface{}{
		"active":      valueOr(result, "active", false),
		"last_access": result["last_access"],
		"message":     "Session status checked successfully",
	})
}

// UserHash derives the stable per-user key the widget sends with chat
// and session calls: a 32-bit string hash of "<erpURL>:<username>" over
// UTF-16 code units, rendered as the absolute value in base 36.
func UserHash(erpURL, username string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(erpURL + ":" + username)) {
		h = (h << 5) - h + int32(unit)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return strconv.FormatInt(n, 36)
}
