// Package router accepts inbound requests and forwards each to a backend
// chosen by the pool manager, relaying the response verbatim. With no healthy
// backend it fails closed with 503. It never retries within a request.
package router
