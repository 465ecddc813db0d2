package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/aidawidget/aidawidget/internal/bridge"
	"github.com/aidawidget/aidawidget/internal/middleware"
	"github.com/aidawidget/aidawidget/internal/settings"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// healthTimeLayout matches the timestamp format the widget already parses
const healthTimeLayout = "2006-01-02 15:04:05.000000"

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req bridge.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		writeError(w, "message is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, s.bridge.Chat(r.Context(), req))
}

// widgetSettingsResponse is the settings snapshot plus the fallback flag
type widgetSettingsResponse struct {
	settings.WidgetSettings
	UsingDefaults bool `json:"using_defaults"`
}

func (s *Server) handleGetWidgetSettings(w http.ResponseWriter, r *http.Request) {
	snap := s.cachedSettings.GetOrLoad(r.Context())

	resp := widgetSettingsResponse{
		WidgetSettings: snap.Settings,
		UsingDefaults:  snap.UsingDefaults,
	}
	if resp.APIServerURL == "" {
		resp.APIServerURL = s.config.Upstream.DefaultURL
	}

	writeJSON(w, resp)
}

func (s *Server) handleSaveWidgetSettings(w http.ResponseWriter, r *http.Request) {
	var upd settings.Update
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	principal := auth.FromContext(r.Context())
	saved, err := s.settings.Write(r.Context(), upd, principal)
	if err != nil {
		var verr *settings.ValidationError
		if errors.As(err, &verr) {
			writeJSONWithStatus(w, http.StatusBadRequest, map[string]interface{}{
				"error":   true,
				"message": fmt.Sprintf("Invalid value for %s: %s", verr.Field, verr.Constraint),
				"field":   verr.Field,
			})
			return
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"user":       principal.User,
			"request_id": middleware.GetRequestID(r.Context()),
		}).Error("Error saving widget settings")
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success":  true,
		"message":  "Settings saved successfully",
		"settings": saved,
	})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())

	fullName := p.FullName
	if fullName == "" {
		fullName = p.User
	}

	writeJSON(w, map[string]interface{}{
		"user":       p.User,
		"full_name":  fullName,
		"site_url":   s.config.SiteURL,
		"user_image": p.UserImage,
		"user_hash":  bridge.UserHash(s.config.SiteURL, p.User),
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIServerURL string `json:"api_server_url"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	writeJSON(w, s.bridge.TestConnection(r.Context(), req.APIServerURL))
}

func (s *Server) handleInitSession(w http.ResponseWriter, r *http.Request) {
	var in bridge.SessionInit
	if err := decodeBody(r, &in); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cc := bridge.CallContext{
		Principal: auth.FromContext(r.Context()),
		SiteURL:   s.config.SiteURL,
	}
	writeJSON(w, s.bridge.InitializeSession(r.Context(), cc, in))
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	if sessionID == "" {
		writeError(w, "session_id is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, s.bridge.CheckSessionStatus(r.Context(), sessionID))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": s.now().Format(healthTimeLayout),
		"user":      auth.FromContext(r.Context()).User,
	})
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	logs, err := s.auditManager.Recent(r.Context(), limit)
	if err != nil {
		logrus.WithError(err).Error("Failed to list audit logs")
		writeError(w, "Failed to list audit logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
