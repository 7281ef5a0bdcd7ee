package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Docker shells out to a docker-compatible binary (docker, podman).
type Docker struct {
	binary string
	logger *slog.Logger
}

func NewDocker(binary string, logger *slog.Logger) *Docker {
	return &Docker{
		binary: binary,
		logger: logger,
	}
}

func (d *Docker) Start(ctx context.Context, id string) error {
	return d.run(ctx, "start", id)
}

func (d *Docker) Stop(ctx context.Context, id string) error {
	return d.run(ctx, "stop", id)
}

// Running inspects the container state. An inspect failure (typically an
// unknown container) is reported as an error alongside not-running.
func (d *Docker) Running(ctx context.Context, id string) (bool, error) {
	cmd := exec.CommandContext(ctx, d.binary, "inspect", "-f", "{{.State.Running}}", id)

	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("%s inspect %s: %w", d.binary, id, err)
	}

	return strings.TrimSpace(string(out)) == "true", nil
}

func (d *Docker) Logs(ctx context.Context, id string, tail int) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary, "logs", "--tail", strconv.Itoa(tail), id)

	// docker logs writes the container's stderr stream to stderr.
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s logs %s: %w: %s", d.binary, id, err, strings.TrimSpace(string(out)))
	}

	return string(out), nil
}

func (d *Docker) run(ctx context.Context, verb, id string) error {
	d.logger.Debug("Invoking container runtime",
		slog.String("binary", d.binary),
		slog.String("verb", verb),
		slog.String("container", id))

	cmd := exec.CommandContext(ctx, d.binary, verb, id)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s %s: %w: %s", d.binary, verb, id, err, strings.TrimSpace(string(out)))
	}

	return nil
}
