package main

import (
	"fmt"
	"regexp"
)

// ShowContext carries everything a worker needs to talk to the reservation
// backend about one screening: backend identifiers, the CSRF token and the
// referer URLs the backend expects on its form endpoints.
type ShowContext struct {
	ScheduleCode string
	ProductID    string // prodSeq
	ScheduleSeq  string // sdSeq
	PerfDate     string // yyyymmdd
	CSRFToken    string

	ChannelCode  string
	SaleTypeCode string
	SaleCondNo   string

	RefererRS   string
	RefererSeat string
}

// Resolved reports whether both backend identifiers are known. The token and
// referers may still rotate afterwards, the identifiers never do.
func (sc *ShowContext) Resolved() bool {
	return sc.ProductID != "" && sc.ScheduleSeq != ""
}

var perfDateDigits = regexp.MustCompile(`\d`)

// normalizePerfDate strips separators from a performance date, keeping only
// digits. "2026-08-28" and "20260828" both become "20260828"; anything that
// does not reduce to 8 digits is returned as-is.
func normalizePerfDate(raw string) string {
	digits := perfDateDigits.FindAllString(raw, -1)
	if len(digits) != 8 {
		return raw
	}
	out := ""
	for _, d := range digits {
		out += d
	}
	return out
}

type PlanKind int

const (
	PlanUnknown PlanKind = iota
	PlanOpenSeating
	PlanAssignedSeat
)

func (p PlanKind) String() string {
	switch p {
	case PlanOpenSeating:
		return "open"
	case PlanAssignedSeat:
		return "assigned"
	default:
		return "unknown"
	}
}

// CapacitySnapshot is the result of one capacity probe. Total and Remaining
// are pointers so "the endpoint said nothing" stays distinct from "the
// endpoint said zero".
type CapacitySnapshot struct {
	Plan       PlanKind
	Total      *int
	Remaining  *int
	ByCategory map[string]int
	Source     string
}

func intPtr(v int) *int { return &v }

func (s CapacitySnapshot) TotalCount() int {
	if s.Total == nil {
		return 0
	}
	return *s.Total
}

func (s CapacitySnapshot) RemainingCount() int {
	if s.Remaining == nil {
		return 0
	}
	return *s.Remaining
}

// HasCapacityData reports whether any strategy produced a usable count.
func (s CapacitySnapshot) HasCapacityData() bool {
	return s.TotalCount() > 0 || s.RemainingCount() > 0
}

// normalize enforces remaining <= total. Some endpoints report a declared
// total smaller than the live availability count, so total is raised rather
// than remaining clipped.
func (s CapacitySnapshot) normalize() CapacitySnapshot {
	if s.Total != nil && s.Remaining != nil && *s.Remaining > *s.Total {
		s.Total = intPtr(*s.Remaining)
	}
	return s
}

func (s CapacitySnapshot) String() string {
	return fmt.Sprintf("plan=%s total=%d remain=%d source=%s",
		s.Plan, s.TotalCount(), s.RemainingCount(), s.Source)
}

type Stage int

const (
	StageUnknown Stage = iota
	StagePrice
	StageZone
	StageSeat
	StageCheckout
	StagePayment
)

func (s Stage) String() string {
	switch s {
	case StagePrice:
		return "price"
	case StageZone:
		return "zone"
	case StageSeat:
		return "seat"
	case StageCheckout:
		return "checkout"
	case StagePayment:
		return "payment"
	default:
		return "unknown"
	}
}

// RunResult is the per-code outcome row of a batch.
type RunResult struct {
	Code     string
	Title    string
	Venue    string
	PerfDate string
	OK       bool
	FinalURL string
	Reason   string
	Snapshot CapacitySnapshot
	Held     bool
}
