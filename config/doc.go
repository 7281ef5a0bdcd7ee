// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including the router address, backend pool, probe tuning, container runtime
// selection, and supervisor timeouts.
package config
