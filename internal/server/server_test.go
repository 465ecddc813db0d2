package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/aidawidget/aidawidget/internal/config"
	"github.com/aidawidget/aidawidget/internal/settings"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logrus.SetLevel(logrus.ErrorLevel)
}

// stubAIDA mimics the endpoints of the upstream chat server
func stubAIDA(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"response":   "echo: " + payload["user_input"].(string),
			"session_id": "s-1",
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","timestamp":"2026-10-17T10:00:00"}`))
	})
	mux.HandleFunc("/init_session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id":"s-42","message":"ok","restored":false}`))
	})
	mux.HandleFunc("/session_status/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"active":true,"last_access":"now","message":"Session active"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	return &config.Config{
		Listen:   "127.0.0.1:0",
		DataDir:  t.TempDir(),
		LogLevel: "error",
		SiteURL:  "https://erp.example.com",
		Auth: config.AuthConfig{
			EnableAuth:         true,
			JWTSecret:          "test-jwt-secret",
			GuestChatPerMinute: 0,
		},
		Cache: config.CacheConfig{Backend: "memory", TTLSeconds: 300},
		Upstream: config.UpstreamConfig{
			DefaultURL:   upstreamURL,
			ChatTimeout:  5,
			CheckTimeout: 5,
		},
		Metrics: config.MetricsConfig{Enable: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	upstream := stubAIDA(t)
	cfg := testConfig(t, upstream.URL)
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.close)
	return s
}

func tokenFor(t *testing.T, s *Server, p auth.Principal) string {
	t.Helper()
	token, err := s.issuer.Issue(p, time.Hour)
	require.NoError(t, err)
	return token
}

func adminToken(t *testing.T, s *Server) string {
	return tokenFor(t, s, auth.Principal{User: "admin@example.com", FullName: "Admin", Roles: []string{auth.RoleAdmin}})
}

func userToken(t *testing.T, s *Server) string {
	return tokenFor(t, s, auth.Principal{User: "jane@example.com", FullName: "Jane Doe", Roles: []string{auth.RoleWidgetUse}})
}

func doRequest(t *testing.T, s *Server, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var out map[string]interface{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	fixed := time.Date(2026, 10, 17, 9, 30, 0, 123456000, time.UTC)
	s.now = func() time.Time { return fixed }

	rr, body := doRequest(t, s, "GET", "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2026-10-17 09:30:00.123456", body["timestamp"])
	assert.Equal(t, auth.GuestUser, body["user"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestChat(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("guest passthrough", func(t *testing.T) {
		rr, body := doRequest(t, s, "POST", "/api/v1/chat", "", map[string]interface{}{"message": "hello"})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "echo: hello", body["response"])
		assert.Equal(t, "s-1", body["session_id"])
	})

	t.Run("missing message", func(t *testing.T) {
		rr, body := doRequest(t, s, "POST", "/api/v1/chat", "", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, true, body["error"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rr, _ := doRequest(t, s, "GET", "/api/v1/chat", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestChat_GuestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.GuestChatPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		rr, _ := doRequest(t, s, "POST", "/api/v1/chat", "", map[string]interface{}{"message": "hi"})
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr, body := doRequest(t, s, "POST", "/api/v1/chat", "", map[string]interface{}{"message": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, true, body["error"])

	// Authenticated callers are not limited
	rr, _ = doRequest(t, s, "POST", "/api/v1/chat", userToken(t, s), map[string]interface{}{"message": "hi"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"settings as guest", "GET", "/api/v1/widget-settings", "", http.StatusUnauthorized},
		{"user info as guest", "GET", "/api/v1/user-info", "", http.StatusUnauthorized},
		{"session init as guest", "POST", "/api/v1/sessions/init", "", http.StatusUnauthorized},
		{"save as guest", "POST", "/api/v1/widget-settings/save", "", http.StatusUnauthorized},
		{"save as user", "POST", "/api/v1/widget-settings/save", userToken(t, s), http.StatusForbidden},
		{"test connection as user", "POST", "/api/v1/test-connection", userToken(t, s), http.StatusForbidden},
		{"audit logs as user", "GET", "/api/v1/audit-logs", userToken(t, s), http.StatusForbidden},
		{"bad token", "GET", "/api/v1/health", "not-a-token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doRequest(t, s, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rr.Code)
			assert.Equal(t, true, body["error"])
		})
	}
}

func TestAuthDisabledRunsAsAdministrator(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.EnableAuth = false
	})

	rr, body := doRequest(t, s, "GET", "/api/v1/user-info", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, auth.AdminUser, body["user"])
}

func TestWidgetSettings_DefaultsUntilSaved(t *testing.T) {
	s := newTestServer(t, nil)
	token := userToken(t, s)

	rr, body := doRequest(t, s, "GET", "/api/v1/widget-settings", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["using_defaults"])
	assert.Equal(t, s.config.Upstream.DefaultURL, body["api_server_url"])
	assert.Equal(t, string(settings.PositionBottomRight), body["widget_position"])

	rr, body = doRequest(t, s, "POST", "/api/v1/widget-settings/save", adminToken(t, s), map[string]interface{}{
		"welcome_message":    "Hi there",
		"widget_position":    "Top Left",
		"widget_theme":       "Dark",
		"api_server_url":     "",
		"connection_timeout": 12,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Settings saved successfully", body["message"])

	saved := body["settings"].(map[string]interface{})
	assert.Equal(t, "top-left", saved["widget_position"])
	assert.Equal(t, "dark", saved["widget_theme"])

	// POST is accepted as well, and the save invalidated the cache
	rr, body = doRequest(t, s, "POST", "/api/v1/widget-settings", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, body["using_defaults"])
	assert.Equal(t, "Hi there", body["welcome_message"])
	assert.Equal(t, float64(12), body["connection_timeout"])
	assert.Equal(t, s.config.Upstream.DefaultURL, body["api_server_url"])
}

func TestSaveWidgetSettings_Validation(t *testing.T) {
	s := newTestServer(t, nil)
	token := adminToken(t, s)

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{"timeout too small", map[string]interface{}{"connection_timeout": 3}, "connection_timeout"},
		{"negative retries", map[string]interface{}{"max_retries": -1}, "max_retries"},
		{"bad url", map[string]interface{}{"api_server_url": "ftp://aida.example.com"}, "api_server_url"},
		{"unknown theme", map[string]interface{}{"widget_theme": "neon"}, "widget_theme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doRequest(t, s, "POST", "/api/v1/widget-settings/save", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, true, body["error"])
			assert.Equal(t, tt.field, body["field"])
			assert.Contains(t, body["message"], tt.field)
		})
	}

	_, err := s.settings.Read(context.Background())
	assert.ErrorIs(t, err, settings.ErrNotConfigured)
}

func TestSaveWidgetSettings_DebugModeAudited(t *testing.T) {
	s := newTestServer(t, nil)
	token := adminToken(t, s)

	rr, _ := doRequest(t, s, "POST", "/api/v1/widget-settings/save", token, map[string]interface{}{"debug_mode": true})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body := doRequest(t, s, "GET", "/api/v1/audit-logs?limit=10", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), body["count"])

	logs := body["logs"].([]interface{})
	entry := logs[0].(map[string]interface{})
	assert.Equal(t, "admin@example.com", entry["user_id"])

	rr, _ = doRequest(t, s, "GET", "/api/v1/audit-logs?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUserInfo(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, "GET", "/api/v1/user-info", userToken(t, s), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "jane@example.com", body["user"])
	assert.Equal(t, "Jane Doe", body["full_name"])
	assert.Equal(t, "https://erp.example.com", body["site_url"])
	assert.NotEmpty(t, body["user_hash"])

	noName := tokenFor(t, s, auth.Principal{User: "bob@example.com"})
	_, body = doRequest(t, s, "GET", "/api/v1/user-info", noName, nil)
	assert.Equal(t, "bob@example.com", body["full_name"])
}

func TestTestConnection(t *testing.T) {
	s := newTestServer(t, nil)
	token := adminToken(t, s)

	t.Run("configured server", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/test-connection", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "healthy", body["server_status"])
	})

	t.Run("unreachable override", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		deadURL := dead.URL
		dead.Close()

		rr, body := doRequest(t, s, "POST", "/api/v1/test-connection", token, map[string]interface{}{"api_server_url": deadURL})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, false, body["success"])
		assert.Contains(t, body["message"], "Could not connect")
	})
}

func TestSessions(t *testing.T) {
	s := newTestServer(t, nil)
	token := userToken(t, s)

	t.Run("init requires password", func(t *testing.T) {
		rr, body := doRequest(t, s, "POST", "/api/v1/sessions/init", token, map[string]interface{}{})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["error"])
	})

	t.Run("init", func(t *testing.T) {
		rr, body := doRequest(t, s, "POST", "/api/v1/sessions/init", token, map[string]interface{}{"password": "secret"})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "s-42", body["session_id"])
	})

	t.Run("status by path", func(t *testing.T) {
		rr, body := doRequest(t, s, "GET", "/api/v1/sessions/s-42/status", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["active"])
	})

	t.Run("status by query", func(t *testing.T) {
		rr, body := doRequest(t, s, "GET", "/api/v1/sessions/status?session_id=s-42", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, true, body["active"])
	})

	t.Run("status without id", func(t *testing.T) {
		rr, body := doRequest(t, s, "GET", "/api/v1/sessions/status", token, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "session_id is required", body["message"])
	})
}

func TestWidgetScriptAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rr, _ := doRequest(t, s, "GET", "/widget/aida_chat_widget.js", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "max-age=300")
	assert.Contains(t, rr.Body.String(), "AidaWidget")

	doRequest(t, s, "GET", "/api/v1/health", "", nil)
	rr, _ = doRequest(t, s, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "aida_http_requests_total")
	assert.Contains(t, rr.Body.String(), `path="/api/v1/health"`)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rr, body := doRequest(t, s, "GET", "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, true, body["error"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.CORSOrigins = []string{"https://shop.example.com"}
	})

	req := httptest.NewRequest("OPTIONS", "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://shop.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
