// Package runtime delegates backend process lifecycle to an external
// container runtime (docker or podman), addressed by container name. The
// supervisor never manages worker processes itself.
package runtime
