package main

import (
	"context"
	"testing"
	"time"
)

func TestPaymentURLPattern(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{"https://filmonestop.maketicket.co.kr/ko/onestop/payment?prodSeq=1", true},
		{"https://filmonestop.maketicket.co.kr/ko/onestop/payment", true},
		{"https://filmonestop.maketicket.co.kr/order/123", true},
		{"https://filmonestop.maketicket.co.kr/ko/onestop/rs/seat", false},
		// Word boundary: no match inside longer path segments.
		{"https://filmonestop.maketicket.co.kr/payments-faq", false},
		{"https://filmonestop.maketicket.co.kr/orderly", false},
		// Only URLs count; a query value mentioning payment is not terminal.
		{"https://filmonestop.maketicket.co.kr/rs?next=payment", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := paymentURLPattern.MatchString(tt.url); got != tt.expected {
			t.Errorf("paymentURLPattern(%q) = %v, expected %v", tt.url, got, tt.expected)
		}
	}
}

func TestDetectStageNilScope(t *testing.T) {
	if got := detectStage(nil); got != StageUnknown {
		t.Errorf("Expected unknown stage for nil scope, got %s", got)
	}
}

// The terminal check sees candidates from every tab, so a flow that finishes
// in an auxiliary tab while the worker page still sits on the portal must
// still terminate.
func TestFirstPaymentURLScansAllCandidates(t *testing.T) {
	urls := []string{
		"", // a vanished scope reads as empty
		"https://biff.maketicket.co.kr/ko/resMain?sdCode=001",
		"https://filmonestop.maketicket.co.kr/ko/onestop/booking?prodSeq=5126&sdSeq=001",
		"https://filmonestop.maketicket.co.kr/ko/onestop/payment?prodSeq=5126",
	}

	got := firstPaymentURL(urls)
	if got != urls[3] {
		t.Errorf("Expected the auxiliary payment URL, got %q", got)
	}

	if got := firstPaymentURL([]string{"", "https://biff.maketicket.co.kr/ko/resMain"}); got != "" {
		t.Errorf("Expected no terminal without a payment URL, got %q", got)
	}
}

// scriptedDriver plays back a fixed stage sequence so the loop contract can
// be tested without a browser.
type scriptedDriver struct {
	script      []Stage
	detects     int
	applied     []Stage
	settles     int
	terminalAt  int // detect count after which Terminal flips true; -1 = never
	consentDone bool
}

func (d *scriptedDriver) Terminal() bool {
	return d.terminalAt >= 0 && d.detects >= d.terminalAt
}

func (d *scriptedDriver) Detect() Stage {
	stage := StageUnknown
	if d.detects < len(d.script) {
		stage = d.script[d.detects]
	}
	d.detects++
	return stage
}

func (d *scriptedDriver) Apply(stage Stage) {
	d.applied = append(d.applied, stage)
}

func (d *scriptedDriver) Settle() {
	d.settles++
	// Settling twice must not undo anything.
	if !d.consentDone {
		d.consentDone = true
	}
}

func TestDriveStagesReturnsImmediatelyWhenTerminal(t *testing.T) {
	driver := &scriptedDriver{terminalAt: 0}

	ok := driveStages(context.Background(), driver, time.Second, time.Millisecond)

	if !ok {
		t.Fatal("Expected success for already-terminal driver")
	}
	if len(driver.applied) != 0 {
		t.Errorf("Expected no transitions, got %v", driver.applied)
	}
	if driver.settles != 0 {
		t.Errorf("Expected no epilogue runs, got %d", driver.settles)
	}
}

func TestDriveStagesAdvancesThroughScript(t *testing.T) {
	driver := &scriptedDriver{
		script:     []Stage{StagePrice, StageSeat, StageCheckout},
		terminalAt: 3,
	}

	ok := driveStages(context.Background(), driver, 2*time.Second, time.Millisecond)

	if !ok {
		t.Fatal("Expected payment to be reached")
	}
	expected := []Stage{StagePrice, StageSeat, StageCheckout}
	if len(driver.applied) != len(expected) {
		t.Fatalf("Expected %d transitions, got %d", len(expected), len(driver.applied))
	}
	for i, stage := range expected {
		if driver.applied[i] != stage {
			t.Errorf("Transition %d: expected %s, got %s", i, stage, driver.applied[i])
		}
	}
}

func TestDriveStagesEpilogueEveryLoop(t *testing.T) {
	driver := &scriptedDriver{
		script:     []Stage{StagePrice, StagePrice, StagePrice},
		terminalAt: 3,
	}

	driveStages(context.Background(), driver, 2*time.Second, time.Millisecond)

	if driver.settles != 3 {
		t.Errorf("Expected the epilogue after every transition, got %d runs", driver.settles)
	}
	if !driver.consentDone {
		t.Error("Expected consent state to stick")
	}

	// Repeat settles are harmless.
	before := driver.consentDone
	driver.Settle()
	driver.Settle()
	if driver.consentDone != before {
		t.Error("Settle must be idempotent")
	}
}

func TestDriveStagesBudgetExhaustion(t *testing.T) {
	driver := &scriptedDriver{terminalAt: -1}

	start := time.Now()
	ok := driveStages(context.Background(), driver, 50*time.Millisecond, 5*time.Millisecond)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("Expected failure when payment is never reached")
	}
	if driver.detects == 0 {
		t.Error("Expected the loop to have run at least once")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Budget loop overran wildly: %v", elapsed)
	}
}

func TestDriveStagesCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := &scriptedDriver{terminalAt: -1}
	ok := driveStages(ctx, driver, time.Second, time.Millisecond)

	if ok {
		t.Fatal("Expected failure on canceled context")
	}
	if len(driver.applied) != 0 {
		t.Errorf("Expected no transitions after cancel, got %v", driver.applied)
	}
}
