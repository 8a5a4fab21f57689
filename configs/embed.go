package configs

import "embed"

// Templates holds the source files new projects are rendered from.
//
//go:embed templates/*.tmpl
var Templates embed.FS
