package circuitbreaker

import (
	"testing"
	"time"
)

func TestClosedAllowsRequests(t *testing.T) {
	b := New(3, time.Minute)

	if !b.Allow("redis") {
		t.Error("closed circuit should allow requests")
	}
	if b.State("redis") != StateClosed {
		t.Errorf("State = %v, want closed", b.State("redis"))
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("redis")
	b.RecordFailure("redis")
	if b.State("redis") != StateClosed {
		t.Error("should still be closed below threshold")
	}

	b.RecordFailure("redis")
	if b.State("redis") != StateOpen {
		t.Error("should open at threshold")
	}
	if b.Allow("redis") {
		t.Error("open circuit should reject requests")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("redis")
	b.RecordFailure("redis")
	b.RecordSuccess("redis")
	b.RecordFailure("redis")
	b.RecordFailure("redis")

	if b.State("redis") != StateClosed {
		t.Error("interleaved success should reset the consecutive failure count")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("redis")
	if b.Allow("redis") {
		t.Error("should be open")
	}

	time.Sleep(15 * time.Millisecond)

	// First request after openDuration is the probe
	if !b.Allow("redis") {
		t.Error("should allow one probe after open duration")
	}
	if b.State("redis") != StateHalfOpen {
		t.Errorf("State = %v, want half_open", b.State("redis"))
	}
	// Second concurrent request is rejected while probing
	if b.Allow("redis") {
		t.Error("should reject requests while probe is in flight")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("redis")
	time.Sleep(15 * time.Millisecond)
	b.Allow("redis") // probe
	b.RecordSuccess("redis")

	if b.State("redis") != StateClosed {
		t.Error("successful probe should close the circuit")
	}
	if !b.Allow("redis") {
		t.Error("closed circuit should allow requests")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)

	b.RecordFailure("redis")
	time.Sleep(15 * time.Millisecond)
	b.Allow("redis") // probe
	b.RecordFailure("redis")

	if b.State("redis") != StateOpen {
		t.Error("failed probe should reopen the circuit")
	}
}

func TestDependenciesAreIndependent(t *testing.T) {
	b := New(1, time.Minute)

	b.RecordFailure("redis")
	if b.Allow("redis") {
		t.Error("redis circuit should be open")
	}
	if !b.Allow("postgres") {
		t.Error("postgres circuit should be unaffected")
	}
}
