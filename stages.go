package main

import (
	"context"
	"math"
	"net/url"
	"regexp"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// Payment is recognized by URL only. Matching on page text used to trip over
// footer links mentioning payment terms, so the URL path is the single
// source of truth for the terminal stage.
var paymentURLPattern = regexp.MustCompile(`/(payment|order)\b`)

const (
	priceMarkers = "select[name='rsVolume'], #rsVolume, input[type='radio'][name*='tkttyp'], " +
		"select[name*='tkttyp'], select[id^='volume_'], #partTicketType"
	zoneMarkers = ".zone, [data-zone], .zone-map, #zoneMap, .block-list .block"
	seatMarkers = ".seat, [data-seat-id], [data-seat-state], g.seat, rect.seat, #seatMap"
	checkoutMarkers = "input[type='checkbox'][name*='agree'], .payment-method, " +
		"#paymentForm, .terms-agree, input[name*='pay']"
)

// detectStage classifies the scope by an ordered predicate chain. Later
// stages keep stale markup from earlier ones in hidden containers, so a
// stage only matches when no earlier-stage marker matched first.
func detectStage(scope *rod.Page) Stage {
	if scope == nil {
		return StageUnknown
	}
	if paymentURLPattern.MatchString(scopeURL(scope)) {
		return StagePayment
	}
	if countSelector(scope, priceMarkers) > 0 {
		return StagePrice
	}
	if countSelector(scope, zoneMarkers) > 0 {
		return StageZone
	}
	if countSelector(scope, seatMarkers) > 0 {
		return StageSeat
	}
	if countSelector(scope, checkoutMarkers) > 0 {
		return StageCheckout
	}
	return StageUnknown
}

// stageDriver is what the budget loop drives. The rod-backed implementation
// lives below; tests drive the loop with a scripted one.
type stageDriver interface {
	// Terminal reports whether the payment stage has been reached.
	Terminal() bool
	// Detect classifies the current stage, re-locating the scope if needed.
	Detect() Stage
	// Apply performs the transition actions for a stage.
	Apply(stage Stage)
	// Settle is the idempotent epilogue run after every transition.
	Settle()
}

// driveStages runs the detect/transit loop under a wall-clock budget.
// Terminal is re-checked before every transition so an overshoot (the page
// advancing past the expected stage on its own) exits immediately. Returns
// false when the budget runs out, never an error.
func driveStages(ctx context.Context, driver stageDriver, budget, pause time.Duration) bool {
	deadline := time.Now().Add(budget)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return driver.Terminal()
		default:
		}

		if driver.Terminal() {
			return true
		}

		stage := driver.Detect()
		driver.Apply(stage)
		driver.Settle()

		time.Sleep(pause)
	}

	return driver.Terminal()
}

// stageMachine drives one worker's booking flow to the payment stage.
type stageMachine struct {
	config  *Config
	trace   *zap.Logger
	api     *apiClient
	locator *scopeLocator
}

func newStageMachine(api *apiClient, locator *scopeLocator, config *Config, trace *zap.Logger) *stageMachine {
	return &stageMachine{config: config, trace: trace, api: api, locator: locator}
}

// RunToPayment loops until the payment stage or the step budget is hit.
// Returns whether payment was reached and the URL of the terminal frame.
// scope is the located booking scope, which may be an iframe, a popup or an
// auxiliary tab rather than part of the worker page itself.
func (m *stageMachine) RunToPayment(ctx context.Context, page, scope *rod.Page, sc *ShowContext, snap CapacitySnapshot) (bool, string) {
	driver := &rodStageDriver{
		machine: m,
		ctx:     ctx,
		page:    page,
		scope:   scope,
		sc:      sc,
		snap:    snap,
		click:   msDuration(m.config.ClickTimeoutMs),
	}

	ok := driveStages(ctx, driver,
		time.Duration(m.config.StepTimeoutSeconds)*time.Second,
		msDuration(m.config.StagePauseMs))
	return ok, driver.finalURL
}

type rodStageDriver struct {
	machine  *stageMachine
	ctx      context.Context
	page     *rod.Page
	scope    *rod.Page
	sc       *ShowContext
	snap     CapacitySnapshot
	click    time.Duration
	finalURL string
	nudged   bool
}

// firstPaymentURL returns the first candidate URL that is a payment page.
func firstPaymentURL(urls []string) string {
	for _, u := range urls {
		if u != "" && paymentURLPattern.MatchString(u) {
			return u
		}
	}
	return ""
}

// Terminal checks the tracked scope first, then every scope the worker can
// see. The booking flow sometimes finishes in a popup or an auxiliary tab,
// never in the worker page itself.
func (d *rodStageDriver) Terminal() bool {
	urls := []string{scopeURL(d.scope)}
	for _, scope := range d.machine.locator.allScopes(d.page) {
		urls = append(urls, scopeURL(scope))
	}
	if u := firstPaymentURL(urls); u != "" {
		d.finalURL = u
		return true
	}
	return false
}

func (d *rodStageDriver) Detect() Stage {
	if scope := d.machine.locator.findAnywhere(d.page); scope != nil {
		d.scope = scope
	}
	stage := detectStage(d.scope)
	d.machine.trace.Debug("stage detected", zap.Stringer("stage", stage))
	return stage
}

func (d *rodStageDriver) Apply(stage Stage) {
	if d.scope == nil {
		return
	}

	switch stage {
	case StagePrice:
		pickTicketType(d.scope)
		setQuantityOne(d.scope)
		clickProceed(d.scope, d.click)
	case StageZone:
		pickZone(d.scope, d.click, d.snap.ByCategory)
		clickProceed(d.scope, d.click)
	case StageSeat:
		d.machine.pickSeat(d.ctx, d.scope, d.sc)
		clickProceed(d.scope, d.click)
	case StageCheckout:
		checkConsentBoxes(d.scope)
		clickProceed(d.scope, d.click)
	case StagePayment:
		// Terminal; nothing to do.
	default:
		// Unknown markup. Nudge the backend session once, then keep trying
		// the generic quantity-and-proceed combination.
		if !d.nudged {
			d.machine.nudgeSession(d.ctx, d.sc)
			d.nudged = true
		}
		setQuantityOne(d.scope)
		clickProceed(d.scope, d.click)
	}
}

// Settle is safe to run any number of times on any stage: it only removes
// blockers and re-asserts forward motion.
func (d *rodStageDriver) Settle() {
	if d.scope == nil {
		return
	}
	clearOverlays(d.scope)
	checkConsentBoxes(d.scope)
	clickProceed(d.scope, d.click)
}

// pickTicketType selects the first selectable ticket type.
func pickTicketType(scope *rod.Page) bool {
	res, err := scope.Timeout(evalTimeout).Eval(`() => {
		const radio = document.querySelector("input[type='radio'][name*='tkttyp']:not(:disabled)");
		if (radio) {
			if (!radio.checked) radio.click();
			return true;
		}
		const sel = document.querySelector("select[name*='tkttyp'], #partTicketType select");
		if (sel && sel.options.length > 1) {
			sel.selectedIndex = 1;
			sel.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		}
		return false;
	}`)
	return err == nil && res.Value.Bool()
}

// pickZone clicks a zone with known remaining capacity first, then any zone
// that does not look sold out.
func pickZone(scope *rod.Page, timeout time.Duration, byCategory map[string]int) bool {
	for zoneID, remain := range byCategory {
		if remain <= 0 || zoneID == "" {
			continue
		}
		if clickLike(scope, timeout, []string{
			"[data-zone='" + zoneID + "']",
			"[data-zone-id='" + zoneID + "']",
			"#" + zoneID,
		}, "") {
			return true
		}
	}

	return clickLike(scope, timeout, []string{
		".zone:not(.soldout):not(.disabled)",
		"[data-zone]:not(.soldout)",
		".block-list .block:not(.soldout)",
	}, "")
}

// pickSeat picks one purchasable seat. The seat-status API is consulted
// first, preferring seats close to the map center; clicking an
// available-styled element is the fallback.
func (m *stageMachine) pickSeat(ctx context.Context, scope *rod.Page, sc *ShowContext) bool {
	click := msDuration(m.config.ClickTimeoutMs)
	if seatID := m.pickSeatViaAPI(ctx, sc); seatID != "" {
		if clickLike(scope, click, []string{
			"[data-seat-id='" + seatID + "']",
			"[data-seatid='" + seatID + "']",
			"#" + seatID,
		}, "") {
			return true
		}
	}

	return clickLike(scope, click, []string{
		".seat.available",
		".seat:not(.sold):not(.soldout):not(.disabled)",
		"[data-seat-state='available']",
		"g.seat:not(.sold) rect, rect.seat:not(.sold)",
	}, "")
}

// pickSeatViaAPI returns the id of a purchasable seat near the middle of the
// map, where the coordinates are published. The primary status code is
// preferred; the rest of the purchasable set widens the pool when none match.
func (m *stageMachine) pickSeatViaAPI(ctx context.Context, sc *ShowContext) string {
	form := url.Values{}
	form.Set("prod_seq", sc.ProductID)
	form.Set("sd_seq", sc.ScheduleSeq)
	form.Set("chnl_cd", sc.ChannelCode)
	form.Set("sale_tycd", sc.SaleTypeCode)
	form.Set("timeStemp", "")

	resp, err := m.api.PostForm(ctx, "/seat/GetRsSeatStatusList", form, sc.RefererSeat, sc.CSRFToken)
	if err != nil {
		return ""
	}
	rows := dictRows(pickList(resp, "seatStatusList", "seat_status_list", "list", "data"))
	if len(rows) == 0 {
		return ""
	}

	purchasable := map[string]bool{}
	for _, code := range m.config.PurchasableStatusCodes {
		purchasable[code] = true
	}
	primary := ""
	if len(m.config.PurchasableStatusCodes) > 0 {
		primary = m.config.PurchasableStatusCodes[0]
	}

	type seat struct {
		id      string
		status  string
		x, y    float64
		located bool
	}

	var seats []seat
	var sumX, sumY float64
	var located int
	for _, row := range rows {
		id := pickString(row, "seatId", "seat_id", "seatNo", "seat_no")
		if id == "" {
			continue
		}
		status := pickString(row, "seatStatusCd", "seat_status_cd", "statusCd", "status")
		if !purchasable[status] {
			continue
		}
		s := seat{id: id, status: status}
		if x, ok := pickInt(row, "x", "seatX", "posX", "col"); ok {
			if y, ok := pickInt(row, "y", "seatY", "posY", "row"); ok {
				s.x, s.y = float64(x), float64(y)
				s.located = true
				sumX += s.x
				sumY += s.y
				located++
			}
		}
		seats = append(seats, s)
	}
	if len(seats) == 0 {
		return ""
	}

	pool := seats
	if primary != "" {
		var primarySeats []seat
		for _, s := range seats {
			if s.status == primary {
				primarySeats = append(primarySeats, s)
			}
		}
		if len(primarySeats) > 0 {
			pool = primarySeats
		}
	}

	if located == 0 {
		return pool[0].id
	}

	centerX, centerY := sumX/float64(located), sumY/float64(located)
	best := pool[0]
	bestDist := math.Inf(1)
	for _, s := range pool {
		if !s.located {
			continue
		}
		dist := math.Hypot(s.x-centerX, s.y-centerY)
		if dist < bestDist {
			best, bestDist = s, dist
		}
	}
	return best.id
}

// nudgeSession pokes the endpoints the booking page calls when it advances,
// which unsticks flows whose markup gave no stage signal.
func (m *stageMachine) nudgeSession(ctx context.Context, sc *ShowContext) {
	for _, path := range []string{"/api/v1/rs/informLimit", "/rs/prodSummary", "/rs/blockSummary2"} {
		form := url.Values{}
		form.Set("prodSeq", sc.ProductID)
		form.Set("sdSeq", sc.ScheduleSeq)
		form.Set("chnlCd", sc.ChannelCode)
		form.Set("saleTycd", sc.SaleTypeCode)
		if path == "/rs/blockSummary2" {
			form.Set("langCd", "ko")
			form.Set("perfDate", sc.PerfDate)
		}
		if _, err := m.api.PostForm(ctx, path, form, sc.RefererRS, sc.CSRFToken); err != nil {
			m.trace.Debug("session nudge failed", zap.String("path", path), zap.Error(err))
		}
	}
}
