package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	// Registering twice on the same registry must fail.
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestMetrics_Collectors(t *testing.T) {
	if n := len(NewMetrics().Collectors()); n != 4 {
		t.Errorf("expected 4 collectors, got %d", n)
	}
}
