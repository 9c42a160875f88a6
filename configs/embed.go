// Package configs provides the embedded configuration template for
// knosid.
//
// The template is embedded at build time with //go:embed so it ships
// with every distribution. `knosid config init` writes it out as a
// starting point; the layering rules are documented in
// internal/config.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `knosid config init`.
//
//go:embed config.example.yaml
var ConfigTemplate string
