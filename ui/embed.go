// Package ui holds the HTML templates of the web front.
package ui

import "embed"

//go:embed templates
var Files embed.FS
