package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/poold/internal/backend"
)

const reachabilityTimeout = 2 * time.Second

// BackendReport is the status view of one backend.
type BackendReport struct {
	ID             string               `json:"id"`
	Address        string               `json:"address"`
	Desired        backend.DesiredState `json:"desired"`
	Health         backend.Health       `json:"health"`
	RuntimeRunning bool                 `json:"runtime_running"`
}

// Report is a point-in-time snapshot of the whole service.
type Report struct {
	State           State           `json:"state"`
	RouterAddress   string          `json:"router_address"`
	RouterReachable bool            `json:"router_reachable"`
	Backends        []BackendReport `json:"backends"`
}

// Status assembles a report from the in-memory state, the container runtime,
// and one reachability request against the router. It mutates nothing: pool
// health is read as-is, and backends with unknown health get a single
// off-the-books probe so a fresh status process still reports something
// useful.
func (s *Supervisor) Status(ctx context.Context) Report {
	report := Report{
		State:         s.State(),
		RouterAddress: dialAddress(s.cfg.Server.Address),
	}

	for _, b := range s.pool.Backends() {
		running, err := s.runtime.Running(ctx, b.ID())
		if err != nil {
			s.logger.Debug("Runtime state unavailable",
				slog.String("backend", b.ID()),
				slog.Any("err", err))
		}

		health := b.Health()
		if health == backend.HealthUnknown {
			if s.prober.ProbeOnce(ctx, b) {
				health = backend.HealthHealthy
			} else {
				health = backend.HealthUnhealthy
			}
		}

		report.Backends = append(report.Backends, BackendReport{
			ID:             b.ID(),
			Address:        b.Address(),
			Desired:        b.Desired(),
			Health:         health,
			RuntimeRunning: running,
		})
	}

	report.RouterReachable = s.routerReachable(ctx, report.RouterAddress)

	return report
}

func (s *Supervisor) routerReachable(ctx context.Context, addr string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, reachabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		reqCtx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return false
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()

	return res.StatusCode == http.StatusOK
}

// Render formats the report for an operator terminal.
func (r Report) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "supervisor: %s\n", r.State)

	reach := "unreachable"
	if r.RouterReachable {
		reach = "reachable"
	}
	fmt.Fprintf(&sb, "router:     %s (%s)\n", r.RouterAddress, reach)

	sb.WriteString("backends:\n")
	for _, b := range r.Backends {
		container := "stopped"
		if b.RuntimeRunning {
			container = "running"
		}
		fmt.Fprintf(&sb, "  %-12s %-21s desired=%-4s health=%-9s container=%s\n",
			b.ID, b.Address, b.Desired, b.Health, container)
	}

	return sb.String()
}

// dialAddress turns a listen address into something dialable; a bare ":port"
// listen address answers on loopback.
func dialAddress(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}
