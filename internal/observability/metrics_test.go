package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixedFleet struct{ total, available int }

func (f fixedFleet) Count() int          { return f.total }
func (f fixedFleet) AvailableCount() int { return f.available }

func TestDriverGaugesReadFleetAtScrape(t *testing.T) {
	ObserveFleet(nil)
	if got := testutil.ToFloat64(DriversAvailable); got != 0 {
		t.Fatalf("expected 0 without a fleet, got %v", got)
	}

	ObserveFleet(fixedFleet{total: 3, available: 2})
	if got := testutil.ToFloat64(DriversRegistered); got != 3 {
		t.Fatalf("registered: got %v", got)
	}
	if got := testutil.ToFloat64(DriversAvailable); got != 2 {
		t.Fatalf("available: got %v", got)
	}

	ObserveFleet(fixedFleet{total: 3, available: 0})
	if got := testutil.ToFloat64(DriversAvailable); got != 0 {
		t.Fatalf("available after claims: got %v", got)
	}
}
