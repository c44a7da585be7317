package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// runBounded runs one worker per code under a weighted-semaphore bound.
// Results come back in input order regardless of completion order.
func runBounded(ctx context.Context, codes []string, limit int64, worker func(context.Context, string) RunResult) []RunResult {
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)
	results := make([]RunResult, len(codes))
	var wg sync.WaitGroup

	for i, code := range codes {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = RunResult{Code: code, Reason: "batch canceled: " + err.Error()}
			continue
		}
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = worker(ctx, code)
		}(i, code)
	}

	wg.Wait()
	return results
}

// Orchestrator fans schedule codes out to workers. Each worker owns its page
// and scope; they share the browser profile, the seeded API session and one
// mutex serializing the cross-origin session bridge.
type Orchestrator struct {
	config   *Config
	browser  *Browser
	tracer   *Tracer
	api      *apiClient
	locator  *scopeLocator
	resolver *sessionResolver
	capacity *capacityAggregator
	machine  *stageMachine

	// bridgeMu serializes session priming: the backend binds its onestop
	// session to the schedule last primed, so two workers priming at once
	// corrupt each other.
	bridgeMu sync.Mutex

	heldMu sync.Mutex
	held   []*rod.Page
}

func NewOrchestrator(config *Config, browser *Browser, tracer *Tracer) (*Orchestrator, error) {
	api, err := newAPIClient(config, tracer.Log())
	if err != nil {
		return nil, err
	}

	locator := newScopeLocator(browser, config, tracer.Log())

	return &Orchestrator{
		config:   config,
		browser:  browser,
		tracer:   tracer,
		api:      api,
		locator:  locator,
		resolver: newSessionResolver(api, locator, config, tracer.Log()),
		capacity: newCapacityAggregator(api, config, tracer.Log()),
		machine:  newStageMachine(api, locator, config, tracer.Log()),
	}, nil
}

// Seed copies the logged-in portal session into the API client. Workers only
// ever read this seed; per-schedule state lives on the backend.
func (o *Orchestrator) Seed() error {
	return o.api.SeedFromPage(o.browser.Portal())
}

func (o *Orchestrator) RunBatch(ctx context.Context, codes []string) []RunResult {
	o.tracer.Log().Info("batch starting",
		zap.Int("codes", len(codes)),
		zap.Int("concurrency", o.config.MaxConcurrency))

	return runBounded(ctx, codes, int64(o.config.MaxConcurrency), o.runOne)
}

func (o *Orchestrator) runOne(ctx context.Context, code string) (result RunResult) {
	log := o.tracer.For(code)
	result.Code = code

	page, err := o.browser.OpenPage(o.config.PortalURL + "/ko/resMain?sdCode=" + code)
	if err != nil {
		result.Reason = "failed to open worker page: " + err.Error()
		return result
	}
	closePage := true
	defer func() {
		if closePage {
			page.Close()
		}
	}()
	// The report carries the last URL the worker saw even when it never got
	// to payment.
	defer func() {
		if result.FinalURL == "" {
			result.FinalURL = scopeURL(page)
		}
	}()

	result.Title = findTitle(page)

	scope, err := o.locator.locate(page, "", "")
	if err != nil {
		log.Debug("no scope before resolution", zap.Error(err))
	}

	sc := o.resolver.Resolve(ctx, scope, code)
	if !sc.Resolved() {
		result.Reason = "insufficient session data: missing prodSeq/sdSeq"
		log.Warn("resolution failed")
		return result
	}
	result.PerfDate = sc.PerfDate

	// Cross-origin bridge: one worker at a time.
	o.bridgeMu.Lock()
	o.resolver.PrepareSession(ctx, sc)
	o.bridgeMu.Unlock()

	if title, venue := o.resolver.FetchMeta(ctx, sc); title != "" || venue != "" {
		if title != "" {
			result.Title = title
		}
		result.Venue = venue
	}

	snap := o.capacity.Aggregate(ctx, sc)
	result.Snapshot = snap
	log.Info("capacity", zap.String("snapshot", snap.String()))

	if !snap.HasCapacityData() {
		if snap.Source == "none" {
			result.Reason = "no capacity data from any source"
		} else {
			result.Reason = fmt.Sprintf("sold out (capacity 0 via %s)", snap.Source)
		}
		return result
	}
	if snap.Remaining != nil && *snap.Remaining == 0 {
		result.Reason = fmt.Sprintf("sold out (capacity 0 via %s)", snap.Source)
		return result
	}

	if scope == nil {
		scope, err = o.locator.locate(page, sc.ProductID, sc.ScheduleSeq)
		if err != nil {
			result.Reason = "booking scope not found"
			return result
		}
	}

	ok, finalURL := o.machine.RunToPayment(ctx, page, scope, sc, snap)
	result.OK = ok
	result.FinalURL = finalURL
	if !ok {
		result.Reason = "payment stage not reached within step budget"
		return result
	}

	if o.config.HoldOnSuccess {
		closePage = false
		result.Held = true
		o.heldMu.Lock()
		o.held = append(o.held, page)
		o.heldMu.Unlock()
		log.Info("holding payment window open", zap.String("url", finalURL))
	}

	return result
}

// WaitForHeld blocks until every held payment window is closed by the
// operator, or until the hold timeout. Timeout zero means wait indefinitely.
func (o *Orchestrator) WaitForHeld(ctx context.Context) {
	o.heldMu.Lock()
	held := append([]*rod.Page(nil), o.held...)
	o.heldMu.Unlock()

	if len(held) == 0 {
		return
	}

	fmt.Printf("\nHolding %d payment window(s) open. Close them when done", len(held))
	var deadline time.Time
	if o.config.HoldTimeoutMinutes > 0 {
		deadline = time.Now().Add(time.Duration(o.config.HoldTimeoutMinutes) * time.Minute)
		fmt.Printf(" (auto-close in %dm)", o.config.HoldTimeoutMinutes)
	}
	fmt.Println(".")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for len(held) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			fmt.Println("Hold timeout reached, closing remaining windows.")
			for _, page := range held {
				page.Close()
			}
			return
		}

		alive := held[:0]
		for _, page := range held {
			if _, err := page.Info(); err == nil {
				alive = append(alive, page)
			}
		}
		held = alive
	}
}

func printSummary(results []RunResult) {
	writeSummary(os.Stdout, results)
}

func writeSummary(w io.Writer, results []RunResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "──────────────────────── batch summary ────────────────────────")
	okCount := 0
	for _, r := range results {
		status := "FAIL"
		if r.OK {
			status = "OK"
			okCount++
		}

		line := fmt.Sprintf("[%s] %-4s", status, r.Code)
		if r.Title != "" {
			line += " " + r.Title
		}
		if r.Venue != "" {
			line += " @ " + r.Venue
		}
		if r.PerfDate != "" {
			line += " (" + r.PerfDate + ")"
		}
		fmt.Fprintln(w, line)

		fmt.Fprintf(w, "       plan=%s total=%d remain=%d source=%s\n",
			r.Snapshot.Plan, r.Snapshot.TotalCount(), r.Snapshot.RemainingCount(), r.Snapshot.Source)
		if r.FinalURL != "" {
			fmt.Fprintf(w, "       at %s\n", r.FinalURL)
		}
		if !r.OK && r.Reason != "" {
			fmt.Fprintf(w, "       reason: %s\n", r.Reason)
		}
	}
	fmt.Fprintf(w, "%d/%d reached payment.\n", okCount, len(results))
	fmt.Fprintln(w, "────────────────────────────────────────────────────────────────")
}

func failedCodes(results []RunResult) []string {
	var failed []string
	for _, r := range results {
		if !r.OK {
			failed = append(failed, r.Code)
		}
	}
	return failed
}

func parseCodes(raw string) []string {
	var codes []string
	for _, part := range strings.Split(raw, ",") {
		if code := strings.TrimSpace(part); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}
