// Package metrics collects routing and health events through a buffered
// channel and aggregates them into per-backend statistics served as JSON.
package metrics
