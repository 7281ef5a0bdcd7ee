// Package probe implements periodic liveness probing for backend workers.
// Each backend gets its own ticker goroutine; verdicts are debounced (slow
// condemnation, fast recovery) before they reach the pool manager.
package probe
