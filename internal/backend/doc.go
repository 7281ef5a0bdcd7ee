// Package backend defines the handle for a single backend worker: its
// identity, address, desired state, observed health, and the reverse proxy
// used to forward requests to it.
package backend
