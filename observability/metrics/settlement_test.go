package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSettlementMetrics(t *testing.T) {
	m := Settlement()
	if Settlement() != m {
		t.Fatalf("registry must be a singleton")
	}
	before := testutil.ToFloat64(m.operations.WithLabelValues("htlc", "withdraw", "validation"))
	m.ObserveOperation("HTLC", "Withdraw", "validation", 5*time.Millisecond)
	after := testutil.ToFloat64(m.operations.WithLabelValues("htlc", "withdraw", "validation"))
	if after != before+1 {
		t.Fatalf("expected counter increment, got %v -> %v", before, after)
	}
	m.RecordEvent("htlc.initiated")
	if testutil.ToFloat64(m.events.WithLabelValues("htlc.initiated")) < 1 {
		t.Fatalf("event counter not incremented")
	}
	var nilMetrics *SettlementMetrics
	nilMetrics.RecordEvent("x")
}
