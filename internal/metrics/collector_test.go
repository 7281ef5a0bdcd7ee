package metrics_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/poold/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		collector = metrics.NewCollector(100, log)
		ctx, cancel = context.WithCancel(context.Background())
		collector.Start(ctx)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("Emit", func() {
		It("should process selection events", func() {
			collector.Emit(metrics.Event{
				Type:      metrics.EventBackendSelected,
				Timestamp: time.Now(),
				Backend:   "backend1",
			})

			Eventually(func() int64 {
				return collector.Snapshot().TotalSelections
			}).Should(Equal(int64(1)))
		})

		It("should process health events", func() {
			collector.Emit(metrics.Event{
				Type:      metrics.EventHealthChanged,
				Timestamp: time.Now(),
				Backend:   "backend1",
				Healthy:   true,
			})

			Eventually(func() bool {
				return collector.Snapshot().Backends["backend1"].Healthy
			}).Should(BeTrue())
		})

		It("should not block when the buffer is full", func() {
			small := metrics.NewCollector(1, slog.Default())
			for i := 0; i < 10; i++ {
				small.Emit(metrics.Event{Type: metrics.EventBackendSelected, Backend: "backend1"})
			}
			// No goroutine is consuming; Emit must still have returned.
		})
	})

	Describe("Handler", func() {
		It("should serve a JSON snapshot", func() {
			collector.Emit(metrics.Event{
				Type:      metrics.EventBackendSelected,
				Timestamp: time.Now(),
				Backend:   "backend1",
			})

			Eventually(func() int64 {
				return collector.Snapshot().TotalSelections
			}).Should(Equal(int64(1)))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/metrics", nil)
			collector.Handler()(rec, req)

			Expect(rec.Code).To(Equal(200))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(rec.Body.String()).To(ContainSubstring("backend1"))
		})
	})
})
