package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// responseSampleLen is how much of a non-JSON health reply is echoed back
const responseSampleLen = 100

// ConnectionReport is the outcome of a connection test
type ConnectionReport struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message"`
	ServerStatus interface{} `json:"server_status,omitempty"`
	ServerTime   interface{} `json:"server_time,omitempty"`
	ResponseText *string     `json:"response_text,omitempty"`
}

// TestConnection checks GET /health on override, or on the configured
// server when override is empty.
func (c *Client) TestConnection(ctx context.Context, override string) ConnectionReport {
	start := time.Now()
	baseURL := strings.TrimSpace(override)
	if baseURL == "" {
		baseURL = c.baseURL(ctx)
	}

	reply, err := c.do(ctx, http.MethodGet, baseURL, "/health", nil, c.checkTimeout)
	if err != nil {
		c.logFailure(OpHealth, baseURL, start, err)
		c.observe(OpHealth, start, outcomeOf(err))

		switch outcomeOf(err) {
		case OutcomeConnection:
			return ConnectionReport{Message: "Could not connect to AIDA API server. Please check if the server is running and the URL is correct."}
		case OutcomeTimeout:
			return ConnectionReport{Message: "Connection timed out. Please check the server URL and network connectivity."}
		default:
			return ConnectionReport{Message: "Connection test failed. Please check the server URL."}
		}
	}

	sample := truncate(string(reply.Body), responseSampleLen)
	if reply.StatusCode != http.StatusOK {
		err := &UpstreamHTTPError{StatusCode: reply.StatusCode, Body: string(reply.Body)}
		c.logFailure(OpHealth, baseURL, start, err)
		c.observe(OpHealth, start, OutcomeUpstream)
		return ConnectionReport{
			Message:      fmt.Sprintf("Server returned status code: %d", reply.StatusCode),
			ResponseText: &sample,
		}
	}

	c.observe(OpHealth, start, OutcomeSuccess)

	var data map[string]interface{}
	if err := json.Unmarshal(reply.Body, &data); err != nil {
		c.log.WithField("base_url", baseURL).Debug("Health endpoint returned a non-JSON body")
		return ConnectionReport{
			Success:      true,
			Message:      "Connection successful (non-JSON response)",
			ResponseText: &sample,
		}
	}

	return ConnectionReport{
		Success:      true,
		Message:      "Connection successful",
		ServerStatus: valueOr(data, "status", "unknown"),
		ServerTime:   valueOr(data, "timestamp", "unknown"),
	}
}

func valueOr(m map[string]interface{}, key string, fallback interface{}) interface{} {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}
