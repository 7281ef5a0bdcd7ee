package supervisor_test

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/poold/config"
	"github.com/angeloszaimis/poold/internal/backend"
	"github.com/angeloszaimis/poold/internal/supervisor"
)

func TestSupervisor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Supervisor Suite")
}

// fakeRuntime records lifecycle calls instead of shelling out to docker.
type fakeRuntime struct {
	mutex      sync.Mutex
	running    map[string]bool
	startCalls []string
	stopCalls  []string
	failStart  map[string]bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		running:   make(map[string]bool),
		failStart: make(map[string]bool),
	}
}

func (f *fakeRuntime) Start(ctx context.Context, id string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.startCalls = append(f.startCalls, id)
	if f.failStart[id] {
		return fmt.Errorf("start %s: container does not exist", id)
	}
	f.running[id] = true
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, id string) error {
	// Like exec.CommandContext, a cancelled context means the binary
	// never runs.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.stopCalls = append(f.stopCalls, id)
	f.running[id] = false
	return nil
}

func (f *fakeRuntime) Running(ctx context.Context, id string) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.running[id], nil
}

func (f *fakeRuntime) Logs(ctx context.Context, id string, tail int) (string, error) {
	return "log output for " + id, nil
}

func (f *fakeRuntime) starts() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.startCalls...)
}

func (f *fakeRuntime) stops() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.stopCalls...)
}

var _ = Describe("Supervisor", func() {
	var (
		rt  *fakeRuntime
		log *slog.Logger
		ctx context.Context
	)

	BeforeEach(func() {
		rt = newFakeRuntime()
		log = slog.New(slog.NewTextHandler(os.Stdout, nil))
		ctx = context.Background()
	})

	newConfig := func(address string, backends ...config.BackendConfig) *config.Config {
		return &config.Config{
			Server: config.ServerConfig{
				Address:     address,
				Environment: config.EnvDev,
			},
			Probe: config.ProbeConfig{
				Interval:         "20ms",
				Timeout:          "200ms",
				FailureThreshold: 3,
			},
			Supervisor: config.SupervisorConfig{
				StartTimeout: "2s",
			},
			Runtime: config.RuntimeConfig{
				Binary: "docker",
			},
			Backends: backends,
			Logging:  config.LoggingConfig{Level: config.LogLevelInfo},
		}
	}

	newSupervisor := func(cfg *config.Config) *supervisor.Supervisor {
		sup, err := supervisor.New(cfg, log, rt)
		Expect(err).NotTo(HaveOccurred())
		return sup
	}

	Describe("New", func() {
		It("should reject duplicate backend ids", func() {
			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: "http://localhost:8081"},
				config.BackendConfig{ID: "backend1", URL: "http://localhost:8082"},
			)
			_, err := supervisor.New(cfg, log, rt)
			Expect(err).To(HaveOccurred())
		})

		It("should reject an invalid listen address", func() {
			cfg := newConfig("nonsense",
				config.BackendConfig{ID: "backend1", URL: "http://localhost:8081"},
			)
			_, err := supervisor.New(cfg, log, rt)
			Expect(err).To(HaveOccurred())
		})

		It("should start in the stopped state", func() {
			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: "http://localhost:8081"},
			)
			Expect(newSupervisor(cfg).State()).To(Equal(supervisor.StateStopped))
		})
	})

	Describe("Start", func() {
		var (
			backendServer *httptest.Server
			sup           *supervisor.Supervisor
		)

		BeforeEach(func() {
			backendServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: backendServer.URL},
			)
			sup = newSupervisor(cfg)
		})

		AfterEach(func() {
			sup.Stop(ctx)
			backendServer.Close()
		})

		It("should reach Running once a backend is healthy", func() {
			Expect(sup.Start(ctx)).To(Succeed())
			Expect(sup.State()).To(Equal(supervisor.StateRunning))
			Expect(rt.starts()).To(Equal([]string{"backend1"}))
		})

		It("should mark launched backends desired-up", func() {
			Expect(sup.Start(ctx)).To(Succeed())

			snap := sup.Pool().Snapshot()
			Expect(snap[0].Desired).To(Equal(backend.DesiredUp))
		})

		It("should be idempotent", func() {
			Expect(sup.Start(ctx)).To(Succeed())
			Expect(sup.Start(ctx)).To(Succeed())

			Expect(sup.State()).To(Equal(supervisor.StateRunning))
			Expect(rt.starts()).To(Equal([]string{"backend1"}))
		})

		It("should reuse an already-running backend", func() {
			rt.running["backend1"] = true

			Expect(sup.Start(ctx)).To(Succeed())
			Expect(rt.starts()).To(BeEmpty())

			snap := sup.Pool().Snapshot()
			Expect(snap[0].Desired).To(Equal(backend.DesiredUp))
		})
	})

	Describe("Start with launch failures", func() {
		It("should skip a failing backend without blocking the rest", func() {
			backendServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer backendServer.Close()

			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "broken", URL: "http://127.0.0.1:1"},
				config.BackendConfig{ID: "backend2", URL: backendServer.URL},
			)
			rt.failStart["broken"] = true

			sup := newSupervisor(cfg)
			defer sup.Stop(ctx)

			Expect(sup.Start(ctx)).To(Succeed())
			Expect(sup.State()).To(Equal(supervisor.StateRunning))

			snap := sup.Pool().Snapshot()
			Expect(snap[0].ID).To(Equal("broken"))
			Expect(snap[0].Desired).To(Equal(backend.DesiredDown))
			Expect(snap[1].Desired).To(Equal(backend.DesiredUp))
		})

		It("should stop launched containers when startup is interrupted", func() {
			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: "http://127.0.0.1:1"},
			)
			sup := newSupervisor(cfg)

			startCtx, cancel := context.WithCancel(ctx)
			go func() {
				time.Sleep(150 * time.Millisecond)
				cancel()
			}()

			err := sup.Start(startCtx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(sup.State()).To(Equal(supervisor.StateStopped))

			// Teardown must not inherit the cancelled context: the
			// runtime stop has to actually run.
			Expect(rt.stops()).To(Equal([]string{"backend1"}))

			running, err := rt.Running(ctx, "backend1")
			Expect(err).NotTo(HaveOccurred())
			Expect(running).To(BeFalse())
		})

		It("should fail with ErrStartupTimeout when nothing becomes healthy", func() {
			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: "http://127.0.0.1:1"},
			)
			cfg.Supervisor.StartTimeout = "400ms"

			sup := newSupervisor(cfg)

			err := sup.Start(ctx)
			Expect(err).To(MatchError(supervisor.ErrStartupTimeout))
			Expect(sup.State()).To(Equal(supervisor.StateStopped))
			Expect(rt.stops()).To(ContainElement("backend1"))
		})
	})

	Describe("Stop", func() {
		It("should stop backends and land in Stopped", func() {
			backendServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer backendServer.Close()

			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: backendServer.URL},
			)
			sup := newSupervisor(cfg)

			Expect(sup.Start(ctx)).To(Succeed())
			Expect(sup.Stop(ctx)).To(Succeed())

			Expect(sup.State()).To(Equal(supervisor.StateStopped))
			Expect(rt.stops()).To(Equal([]string{"backend1"}))

			snap := sup.Pool().Snapshot()
			Expect(snap[0].Desired).To(Equal(backend.DesiredDown))
		})

		It("should be callable without a prior start", func() {
			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: "http://localhost:8081"},
			)
			sup := newSupervisor(cfg)

			Expect(sup.Stop(ctx)).To(Succeed())
			Expect(sup.State()).To(Equal(supervisor.StateStopped))
			Expect(rt.stops()).To(Equal([]string{"backend1"}))
		})
	})

	Describe("Restart", func() {
		It("should stop and start again", func() {
			backendServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer backendServer.Close()

			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: backendServer.URL},
			)
			sup := newSupervisor(cfg)
			defer sup.Stop(ctx)

			Expect(sup.Start(ctx)).To(Succeed())
			Expect(sup.Restart(ctx)).To(Succeed())

			Expect(sup.State()).To(Equal(supervisor.StateRunning))
			Expect(rt.stops()).To(Equal([]string{"backend1"}))
			Expect(rt.starts()).To(Equal([]string{"backend1", "backend1"}))
		})
	})

	Describe("Status", func() {
		It("should report a running service with a reachable router", func() {
			backendServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer backendServer.Close()

			cfg := newConfig(freeAddress(),
				config.BackendConfig{ID: "backend1", URL: backendServer.URL},
			)
			sup := newSupervisor(cfg)
			defer sup.Stop(ctx)

			Expect(sup.Start(ctx)).To(Succeed())

			report := sup.Status(ctx)
			Expect(report.State).To(Equal(supervisor.StateRunning))
			Expect(report.RouterReachable).To(BeTrue())
			Expect(report.Backends).To(HaveLen(1))
			Expect(report.Backends[0].Health).To(Equal(backend.HealthHealthy))
			Expect(report.Backends[0].RuntimeRunning).To(BeTrue())
		})

		It("should report a stopped service without mutating anything", func() {
			cfg := newConfig("127.0.0.1:0",
				config.BackendConfig{ID: "backend1", URL: "http://127.0.0.1:1"},
			)
			sup := newSupervisor(cfg)

			report := sup.Status(ctx)
			Expect(report.State).To(Equal(supervisor.StateStopped))
			Expect(report.RouterReachable).To(BeFalse())
			Expect(report.Backends[0].Health).To(Equal(backend.HealthUnhealthy))
			Expect(report.Backends[0].RuntimeRunning).To(BeFalse())

			// The one-shot probe must not leak into pool state.
			Expect(sup.Pool().Snapshot()[0].Health).To(Equal(backend.HealthUnknown))
			Expect(sup.State()).To(Equal(supervisor.StateStopped))
		})

		It("should render a readable report", func() {
			report := supervisor.Report{
				State:           supervisor.StateRunning,
				RouterAddress:   "127.0.0.1:8080",
				RouterReachable: true,
				Backends: []supervisor.BackendReport{
					{ID: "backend1", Address: "127.0.0.1:8081", Desired: backend.DesiredUp, Health: backend.HealthHealthy, RuntimeRunning: true},
					{ID: "backend2", Address: "127.0.0.1:8082", Desired: backend.DesiredUp, Health: backend.HealthUnhealthy, RuntimeRunning: false},
				},
			}

			text := report.Render()
			Expect(text).To(ContainSubstring("supervisor: running"))
			Expect(text).To(ContainSubstring("127.0.0.1:8080 (reachable)"))
			Expect(text).To(ContainSubstring("backend1"))
			Expect(text).To(ContainSubstring("health=unhealthy"))
			Expect(text).To(ContainSubstring("container=stopped"))
		})
	})
})

func freeAddress() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}
