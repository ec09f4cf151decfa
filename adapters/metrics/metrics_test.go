package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/artpar/entitygate/adapters/metrics"
	"github.com/artpar/entitygate/core/apierr"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.OperationsTotal == nil {
		t.Error("OperationsTotal is nil")
	}
	if m.OperationDuration == nil {
		t.Error("OperationDuration is nil")
	}
	if m.HookFailures == nil {
		t.Error("HookFailures is nil")
	}
	if m.StorageDuration == nil {
		t.Error("StorageDuration is nil")
	}
}

func TestObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ObserveOperation("product", "list", apierr.OK, 5*time.Millisecond)
	m.ObserveOperation("product", "list", apierr.OK, 7*time.Millisecond)
	m.ObserveOperation("product", "create", apierr.NoRights, time.Millisecond)

	if got := value(t, m.OperationsTotal.WithLabelValues("product", "list", "OK")); got != 2 {
		t.Errorf("list OK = %v, want 2", got)
	}
	if got := value(t, m.OperationsTotal.WithLabelValues("product", "create", "NO_RIGHTS")); got != 1 {
		t.Errorf("create NO_RIGHTS = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "entitygate_operation_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("entitygate_operation_duration_seconds not gathered")
	}
}

func TestObserveHookFailure(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveHookFailure("order", "before_create")

	if got := value(t, m.HookFailures.WithLabelValues("order", "before_create")); got != 1 {
		t.Errorf("hook failures = %v, want 1", got)
	}
}

func TestObserveStorage(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveStorage("find", "product", time.Millisecond, nil)
	m.ObserveStorage("insert", "product", time.Millisecond, errors.New("disk full"))

	if got := value(t, m.StorageErrors.WithLabelValues("insert", "product")); got != 1 {
		t.Errorf("insert errors = %v, want 1", got)
	}
	if got := value(t, m.StorageErrors.WithLabelValues("find", "product")); got != 0 {
		t.Errorf("find errors = %v, want 0", got)
	}
}

func TestObserveRequest(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveRequest("GET", "/api/{collection}", 200)
	m.ObserveRequest("GET", "/api/{collection}", 204)
	m.ObserveRequest("POST", "/api/{collection}", 409)

	if got := value(t, m.RequestsTotal.WithLabelValues("GET", "/api/{collection}", "2xx")); got != 2 {
		t.Errorf("GET 2xx = %v, want 2", got)
	}
	if got := value(t, m.RequestsTotal.WithLabelValues("POST", "/api/{collection}", "4xx")); got != 1 {
		t.Errorf("POST 4xx = %v, want 1", got)
	}
}

func TestRequestInFlightAndAuthFailures(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	done := m.RequestStarted()
	if got := value(t, m.RequestsInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	done()
	if got := value(t, m.RequestsInFlight); got != 0 {
		t.Errorf("in flight after done = %v, want 0", got)
	}

	m.ObserveAuthFailure("invalid_credentials")
	if got := value(t, m.AuthFailures.WithLabelValues("invalid_credentials")); got != 1 {
		t.Errorf("auth failures = %v, want 1", got)
	}
}

func TestObserveReload(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.ObserveReload(nil)
	m.ObserveReload(errors.New("bad yaml"))

	if got := value(t, m.ConfigReloads); got != 1 {
		t.Errorf("reloads = %v, want 1", got)
	}
	if got := value(t, m.ConfigReloadErrors); got != 1 {
		t.Errorf("reload errors = %v, want 1", got)
	}
	if value(t, m.ConfigLastReload) == 0 {
		t.Error("last reload timestamp not set")
	}
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric %v", out.String())
	return 0
}
