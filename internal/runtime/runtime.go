package runtime

import "context"

// Runtime is the external collaborator that owns backend worker processes.
type Runtime interface {
	// Start launches the container with the given id, which must already
	// exist in the runtime.
	Start(ctx context.Context, id string) error

	// Stop stops the container with the given id.
	Stop(ctx context.Context, id string) error

	// Running reports whether the container is currently running.
	Running(ctx context.Context, id string) (bool, error)

	// Logs returns up to tail lines of the container's recent output.
	Logs(ctx context.Context, id string, tail int) (string, error)
}
