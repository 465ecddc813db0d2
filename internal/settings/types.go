package settings

import (
	"errors"
	"strings"
)

// CacheKey is the cache entry holding the settings snapshot
const CacheKey = "aida_widget_settings"

// ErrNotConfigured is returned when the settings record has not been created
var ErrNotConfigured = errors.New("widget settings not configured")

// Position is where the widget docks on the page
type Position string

const (
	PositionBottomRight Position = "bottom-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionTopRight    Position = "top-right"
	PositionTopLeft     Position = "top-left"
)

// Theme is the widget color scheme
type Theme string

const (
	ThemeDefault Theme = "default"
	ThemeLight   Theme = "light"
	ThemeDark    Theme = "dark"
)

// Validation limits
const (
	MinConnectionTimeout = 5
	MinMaxRetries        = 0
)

const (
	DefaultAPIServerURL   = "https://aida.mocxha.com"
	DefaultWelcomeMessage = "Hello! I'm AIDA, your AI assistant. How can I help you today?"
)

// WidgetSettings is the singleton widget configuration record.
//
// MaxRetries is advisory: it is handed to the widget, which owns retry
// behavior. The bridge never retries upstream calls itself.
type WidgetSettings struct {
	WidgetEnabled       bool     `json:"widget_enabled"`
	AutoOpen            bool     `json:"auto_open"`
	APIServerURL        string   `json:"api_server_url"`
	WelcomeMessage      string   `json:"welcome_message"`
	Position            Position `json:"widget_position"`
	Theme               Theme    `json:"widget_theme"`
	ShowUserAvatar      bool     `json:"show_user_avatar"`
	UserAvatarURL       string   `json:"user_avatar_url"`
	SoundNotifications  bool     `json:"sound_notifications"`
	ConversationLogging bool     `json:"conversation_logging"`
	ConnectionTimeout   int      `json:"connection_timeout"`
	MaxRetries          int      `json:"max_retries"`
	DebugMode           bool     `json:"debug_mode"`
}

// Defaults returns the settings a fresh install starts with
func Defaults() WidgetSettings {
	return WidgetSettings{
		WidgetEnabled:       true,
		AutoOpen:            false,
		APIServerURL:        DefaultAPIServerURL,
		WelcomeMessage:      DefaultWelcomeMessage,
		Position:            PositionBottomRight,
		Theme:               ThemeDefault,
		ShowUserAvatar:      true,
		UserAvatarURL:       "",
		SoundNotifications:  false,
		ConversationLogging: true,
		ConnectionTimeout:   30,
		MaxRetries:          3,
		DebugMode:           false,
	}
}

// Update is a partial change to WidgetSettings; nil fields are left as is
type Update struct {
	WidgetEnabled       *bool     `json:"widget_enabled,omitempty"`
	AutoOpen            *bool     `json:"auto_open,omitempty"`
	APIServerURL        *string   `json:"api_server_url,omitempty"`
	WelcomeMessage      *string   `json:"welcome_message,omitempty"`
	Position            *Position `json:"widget_position,omitempty"`
	Theme               *Theme    `json:"widget_theme,omitempty"`
	ShowUserAvatar      *bool     `json:"show_user_avatar,omitempty"`
	UserAvatarURL       *string   `json:"user_avatar_url,omitempty"`
	SoundNotifications  *bool     `json:"sound_notifications,omitempty"`
	ConversationLogging *bool     `json:"conversation_logging,omitempty"`
	ConnectionTimeout   *int      `json:"connection_timeout,omitempty"`
	MaxRetries          *int      `json:"max_retries,omitempty"`
	DebugMode           *bool     `json:"debug_mode,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u Update) IsEmpty() bool {
	return u == Update{}
}

// Apply returns s with the non-nil fields of u applied
func (u Update) Apply(s WidgetSettings) WidgetSettings {
	if u.WidgetEnabled != nil {
		s.WidgetEnabled = *u.WidgetEnabled
	}
	if u.AutoOpen != nil {
		s.AutoOpen = *u.AutoOpen
	}
	if u.APIServerURL != nil {
		s.APIServerURL = *u.APIServerURL
	}
	if u.WelcomeMessage != nil {
		s.WelcomeMessage = *u.WelcomeMessage
	}
	if u.Position != nil {
		s.Position = *u.Position
	}
	if u.Theme != nil {
		s.Theme = *u.Theme
	}
	if u.ShowUserAvatar != nil {
		s.ShowUserAvatar = *u.ShowUserAvatar
	}
	if u.UserAvatarURL != nil {
		s.UserAvatarURL = *u.UserAvatarURL
	}
	if u.SoundNotifications != nil {
		s.SoundNotifications = *u.SoundNotifications
	}
	if u.ConversationLogging != nil {
		s.ConversationLogging = *u.ConversationLogging
	}
	if u.ConnectionTimeout != nil {
		s.ConnectionTimeout = *u.ConnectionTimeout
	}
	if u.MaxRetries != nil {
		s.MaxRetries = *u.MaxRetries
	}
	if u.DebugMode != nil {
		s.DebugMode = *u.DebugMode
	}
	return s
}

// Normalize trims text fields and maps display labels such as
// "Bottom Right" or "Default" onto the canonical enum values.
func (s *WidgetSettings) Normalize() {
	s.APIServerURL = strings.TrimRight(strings.TrimSpace(s.APIServerURL), "/")
	s.UserAvatarURL = strings.TrimSpace(s.UserAvatarURL)
	s.Position = Position(labelToken(string(s.Position)))
	s.Theme = Theme(labelToken(string(s.Theme)))
	if s.Position == "" {
		s.Position = PositionBottomRight
	}
	if s.Theme == "" {
		s.Theme = ThemeDefault
	}
}

func labelToken(v string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), " ", "-")
}
