// Package registryclient lets a backend register with the gateway's
// registry over HTTP and keep its registration alive with heartbeats.
package registryclient
