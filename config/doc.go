// Package config loads the gateway configuration from an optional .env
// file, a YAML config file and environment variables, in increasing order
// of precedence over the built-in defaults, and validates it.
package config
