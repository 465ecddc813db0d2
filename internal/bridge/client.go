package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Default upstream deadlines
const (
	DefaultChatTimeout  = 30 * time.Second
	DefaultCheckTimeout = 10 * time.Second
)

// maxBodySize caps how much of an upstream reply is read
const maxBodySize = 10 << 20

// Upstream operations, used as the metrics label
const (
	OpChat          = "chat"
	OpHealth        = "health"
	OpInitSession   = "init_session"
	OpSessionStatus = "session_status"
)

// BaseURLResolver supplies the AIDA server base URL for each call
type BaseURLResolver interface {
	BaseURL(ctx context.Context) string
}

// Recorder receives one observation per upstream call
type Recorder interface {
	ObserveUpstream(operation, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveUpstream(string, string, time.Duration) {}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	HTTPClient   *http.Client
	ChatTimeout  time.Duration
	CheckTimeout time.Duration
	Recorder     Recorder
}

// Client forwards widget calls to the AIDA server and normalizes the
// replies. It keeps no per-session state.
type Client struct {
	httpClient   *http.Client
	resolver     BaseURLResolver
	chatTimeout  time.Duration
	checkTimeout time.Duration
	recorder     Recorder
	log          *logrus.Entry
}

// NewClient creates a bridge client
func NewClient(resolver BaseURLResolver, opts Options) *Client {
	c := &Client{
		httpClient:   opts.HTTPClient,
		resolver:     resolver,
		chatTimeout:  opts.ChatTimeout,
		checkTimeout: opts.CheckTimeout,
		recorder:     opts.Recorder,
		log:          logrus.WithField("component", "bridge"),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if c.chatTimeout <= 0 {
		c.chatTimeout = DefaultChatTimeout
	}
	if c.checkTimeout <= 0 {
		c.checkTimeout = DefaultCheckTimeout
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	return c
}

// upstreamReply is a completed HTTP exchange
type upstreamReply struct {
	StatusCode int
	Body       []byte
}

// do sends one request to baseURL+path under its own deadline. Transport
// failures come back already classified.
func (c *Client) do(ctx context.Context, method, baseURL, path string, payload interface{}, timeout time.Duration) (*upstreamReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := strings.TrimRight(baseURL, "/") + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &UnexpectedError{Err: fmt.Errorf("failed to encode payload: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &UnexpectedError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classify(err)
	}

	return &upstreamReply{StatusCode: resp.StatusCode, Body: data}, nil
}

// observe records the outcome of one call
func (c *Client) observe(op string, start time.Time, outcome string) {
	c.recorder.ObserveUpstream(op, outcome, time.Since(start))
}

// logFailure writes the detailed cause of a failed call
func (c *Client) logFailure(op, baseURL string, start time.Time, err error) {
	entry := c.log.WithFields(logrus.Fields{
		"operation":   op,
		"base_url":    baseURL,
		"outcome":     outcomeOf(err),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	var upstream *UpstreamHTTPError
	if errors.As(err, &upstream) {
		entry.WithFields(logrus.Fields{
			"status_code": upstream.StatusCode,
			"body":        truncate(upstream.Body, 500),
		}).Error("AIDA server returned an error")
		return
	}

	switch outcomeOf(err) {
	case OutcomeTimeout:
		entry.WithError(err).Warn("AIDA request timed out")
	case OutcomeConnection:
		entry.WithError(err).Error("Could not connect to AIDA server")
	default:
		entry.WithError(err).Error("Unexpected error calling AIDA server")
	}
}

func (c *Client) baseURL(ctx context.Context) string {
	return c.resolver.BaseURL(ctx)
}

// truncate returns at most n characters of s
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
