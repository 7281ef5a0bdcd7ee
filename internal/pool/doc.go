// Package pool implements the pool manager: the single owner of the backend
// set, its observed health flags, and the round-robin selection cursor. All
// shared state is mutated through short, mutex-scoped methods.
package pool
