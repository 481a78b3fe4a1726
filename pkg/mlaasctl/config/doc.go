// Package config loads mlaasctl's YAML configuration, overlays the
// environment variables of the helix helper scripts and validates the
// result.
package config
