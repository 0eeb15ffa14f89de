// Package configs embeds the configuration template written by
// `fmindex config init --project`.
//
// The template documents every project-level setting with its default.
// To change it, edit project-config.example.yaml and rebuild.
package configs

import _ "embed"

// ProjectConfigTemplate is the annotated fmindex.yaml template.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
