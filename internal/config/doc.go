// Package config loads and validates the daemon configuration from a YAML
// file with built-in defaults and environment overrides for the control
// port and the recognition credentials.
package config
