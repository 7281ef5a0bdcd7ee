package probe_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/poold/internal/backend"
	"github.com/angeloszaimis/poold/internal/pool"
	"github.com/angeloszaimis/poold/internal/probe"
)

var _ = Describe("Prober", func() {
	var (
		m      *pool.Manager
		log    *slog.Logger
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		m = pool.NewManager()
		log = slog.New(slog.NewTextHandler(os.Stdout, nil))
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	newProber := func() *probe.Prober {
		return probe.New(m, nil, 20*time.Millisecond, 200*time.Millisecond, 3, log)
	}

	register := func(rawURL string) *backend.Backend {
		u, err := url.Parse(rawURL)
		Expect(err).NotTo(HaveOccurred())
		b := backend.New("backend1", u)
		Expect(m.Register(b)).To(Succeed())
		return b
	}

	Describe("Run", func() {
		It("should mark a responding backend healthy", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			b := register(server.URL)
			go newProber().Run(ctx, b)

			Eventually(func() backend.Health {
				return b.Health()
			}, time.Second, 10*time.Millisecond).Should(Equal(backend.HealthHealthy))
		})

		It("should accept redirects as liveness", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusFound)
			}))
			defer server.Close()

			b := register(server.URL)
			go newProber().Run(ctx, b)

			Eventually(func() backend.Health {
				return b.Health()
			}, time.Second, 10*time.Millisecond).Should(Equal(backend.HealthHealthy))
		})

		It("should condemn only after consecutive failures", func() {
			var failing atomic.Bool

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if failing.Load() {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			b := register(server.URL)
			go newProber().Run(ctx, b)

			Eventually(func() backend.Health {
				return b.Health()
			}, time.Second, 10*time.Millisecond).Should(Equal(backend.HealthHealthy))

			failing.Store(true)

			Eventually(func() backend.Health {
				return b.Health()
			}, time.Second, 10*time.Millisecond).Should(Equal(backend.HealthUnhealthy))

			failing.Store(false)

			// One success restores health immediately.
			Eventually(func() backend.Health {
				return b.Health()
			}, time.Second, 10*time.Millisecond).Should(Equal(backend.HealthHealthy))
		})

		It("should condemn a backend that answers too slowly", func() {
			// The handler outlives the 200ms probe timeout, so every
			// probe is abandoned mid-flight.
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			b := register(server.URL)
			go newProber().Run(ctx, b)

			Eventually(func() backend.Health {
				return b.Health()
			}, 3*time.Second, 10*time.Millisecond).Should(Equal(backend.HealthUnhealthy))
		})

		It("should count an unreachable backend as failing", func() {
			// Nothing listens on this port.
			b := register("http://127.0.0.1:1")
			go newProber().Run(ctx, b)

			Eventually(func() backend.Health {
				return b.Health()
			}, time.Second, 10*time.Millisecond).Should(Equal(backend.HealthUnhealthy))
		})

		It("should stop when the context is cancelled", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			b := register(server.URL)

			runCtx, runCancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				newProber().Run(runCtx, b)
				close(done)
			}()

			runCancel()
			Eventually(done, time.Second).Should(BeClosed())
		})
	})

	Describe("ProbeOnce", func() {
		It("should report success without mutating health", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			b := register(server.URL)

			Expect(newProber().ProbeOnce(ctx, b)).To(BeTrue())
			Expect(b.Health()).To(Equal(backend.HealthUnknown))
		})

		It("should report failure for a dead backend", func() {
			b := register("http://127.0.0.1:1")
			Expect(newProber().ProbeOnce(ctx, b)).To(BeFalse())
		})
	})
})
