// Package inkwell is a single-page chat workspace for conversing with a
// hosted language model and curating generated text into a personal article
// library.
package inkwell

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the web
// interface, organized into layouts, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets such as JavaScript and CSS
// files required for the web interface's functionality and styling.
//
//go:embed static/*
var StaticFS embed.FS
