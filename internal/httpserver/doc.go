// Package httpserver wraps net/http with address validation, graceful
// shutdown, JSON responses and the gateway middleware chain.
package httpserver
