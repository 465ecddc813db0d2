package web

import (
	"embed"
	"io/fs"
)

// Embed the browser widget served under /widget/
//
//go:embed widget
var WidgetAssets embed.FS

// GetWidgetFS returns the embedded widget filesystem rooted at widget/
func GetWidgetFS() (fs.FS, error) {
	return fs.Sub(WidgetAssets, "widget")
}
