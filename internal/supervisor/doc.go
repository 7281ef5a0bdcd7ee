// Package supervisor is the top-level control loop. It launches backend
// workers through the container runtime, wires probe verdicts into the pool
// manager, runs the router, and exposes the operational lifecycle
// (start, stop, restart, status).
package supervisor
