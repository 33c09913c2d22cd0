// Package handler implements the HTTP surface of the gateway: proxied
// service routes, aggregate routes, introspection of the registry and the
// circuit breakers, the registry API used by backends, and the not-found
// answer.
package handler
