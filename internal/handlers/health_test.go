package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
	"github.com/maplecart/api/internal/services"
)

type stubSystemService struct {
	healthReportFunc     func(ctx context.Context) (services.SystemHealthReport, error)
	nextCounterValueFunc func(ctx context.Context, cmd services.CounterCommand) (int64, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.healthReportFunc == nil {
		return services.SystemHealthReport{}, fmt.Errorf("unexpected HealthReport call")
	}
	return s.healthReportFunc(ctx)
}

func (s *stubSystemService) NextCounterValue(ctx context.Context, cmd services.CounterCommand) (int64, error) {
	if s.nextCounterValueFunc == nil {
		return 0, fmt.Errorf("unexpected NextCounterValue call")
	}
	return s.nextCounterValueFunc(ctx, cmd)
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)

	handler := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "2.4.0",
			CommitSHA:   "f00dcafe",
			Environment: "prod",
			StartedAt:   started,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", payload["status"])
	}
	if payload["version"] != "2.4.0" || payload["commitSha"] != "f00dcafe" || payload["environment"] != "prod" {
		t.Fatalf("unexpected build info %v", payload)
	}
	if payload["uptime"] != "1h30m0s" {
		t.Fatalf("unexpected uptime %v", payload["uptime"])
	}
}

func TestReadyzWithoutSystemServiceFallsBackToLiveness(t *testing.T) {
	handler := NewHealthHandlers()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestReadyzHealthyReport(t *testing.T) {
	system := &stubSystemService{
		healthReportFunc: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
					"pubsub":    {Status: domain.HealthStatusOK},
				},
				Version: "2.4.0",
			}, nil
		},
	}

	handler := NewHealthHandlers(WithHealthSystemService(system))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var payload struct {
		Status  string                    `json:"status"`
		Checks  map[string]map[string]any `json:"checks"`
		Details []string                  `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %q", payload.Status)
	}
	if len(payload.Checks) != 2 || len(payload.Details) != 0 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadyzDegradedReportsServiceUnavailable(t *testing.T) {
	system := &stubSystemService{
		healthReportFunc: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
					"pubsub":    {Status: domain.HealthStatusDegraded, Error: "publish timeout"},
				},
			}, nil
		},
	}

	handler := NewHealthHandlers(WithHealthSystemService(system))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var payload struct {
		Status  string   `json:"status"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %q", payload.Status)
	}
	if len(payload.Details) != 1 || payload.Details[0] != "pubsub: publish timeout" {
		t.Fatalf("unexpected details %v", payload.Details)
	}
}

func TestReadyzReportError(t *testing.T) {
	system := &stubSystemService{
		healthReportFunc: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{}, fmt.Errorf("health repository offline")
		},
	}

	handler := NewHealthHandlers(WithHealthSystemService(system))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
