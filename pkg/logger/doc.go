// Package logger builds the slog loggers shared by the gateway and the
// demo backend: JSON output in prod, text elsewhere, always tagged with the
// environment.
package logger
