// Package backend describes the fixed set of downstream services the gateway
// knows about and the two ways it talks to them: a path-rewriting reverse
// proxy for single-service routes and a small JSON client used by the
// aggregate routes.
package backend
