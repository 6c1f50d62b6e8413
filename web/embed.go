package web

import "embed"

// Content holds the embedded dashboard page template.
//
//go:embed dashboard.html
var Content embed.FS
