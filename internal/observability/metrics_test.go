package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsUploadCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.BatchStarted()
	metrics.ObserveUploadCompleted("Docs", 2048, 120*time.Millisecond)
	metrics.ObserveUploadFailed("docs", "permanent", 40*time.Millisecond)
	metrics.ObserveUploadFailed("docs", "", 40*time.Millisecond)
	metrics.BatchFinished("PARTIAL_FAILURE")

	if got := testutil.ToFloat64(metrics.uploadsCompletedTotal.WithLabelValues("docs")); got != 1 {
		t.Fatalf("uploads_completed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.uploadBytesTotal.WithLabelValues("docs")); got != 2048 {
		t.Fatalf("upload_bytes_total = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(metrics.uploadsFailedTotal.WithLabelValues("docs", "permanent")); got != 1 {
		t.Fatalf("uploads_failed_total{permanent} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.uploadsFailedTotal.WithLabelValues("docs", "unknown")); got != 1 {
		t.Fatalf("uploads_failed_total{unknown} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.batchesInflight); got != 0 {
		t.Fatalf("batches_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.batchesFinishedTotal.WithLabelValues("partial_failure")); got != 1 {
		t.Fatalf("batches_finished_total = %v, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.BatchStarted()
	metrics.ObserveUploadCompleted("docs", 1, time.Millisecond)
	metrics.ObserveUploadFailed("docs", "transient", time.Millisecond)
	metrics.BatchFinished("ALL_SUCCEEDED")
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/v1/batches/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/v1/batches/b-123", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/v1/batches/:id", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Post("/v1/batches/:id/run", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})
	app.Delete("/v1/batches/:id", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusConflict, "batch is running")
	})

	req := httptest.NewRequest("POST", "/v1/batches/b-1/run", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("POST", "/v1/batches/:id/run", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}

	req = httptest.NewRequest("DELETE", "/v1/batches/b-1", nil)
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("DELETE", "/v1/batches/:id", "409")); got != 1 {
		t.Fatalf("http_requests_total{409} = %v, want 1", got)
	}
}
