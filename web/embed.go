// Package web embeds the server-rendered pages and their assets.
package web

import "embed"

// TemplatesFS embeds the list, edit and hint pages plus the shared layout.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS embeds the stylesheet and favicon.
//
//go:embed static/*
var StaticFS embed.FS
