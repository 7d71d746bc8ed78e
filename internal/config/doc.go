// Package config loads and validates boardsync configuration.
//
// Config files are YAML with ${VAR} environment variable expansion.
// Loading is a three-step chain: Load parses the file, applyDefaults
// fills optional fields, Validate checks required fields and ranges.
package config
