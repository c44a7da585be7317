package main

import (
	"errors"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

var errScopeNotFound = errors.New("booking scope not found")

// bookingEntryPaths are the direct entry points of the reservation flow, in
// the order the flow itself visits them.
var bookingEntryPaths = []string{
	"/ko/onestop/booking",
	"/ko/onestop/rs",
	"/ko/onestop/rs/seat",
}

// scopeLocator finds the page or iframe that actually hosts the booking flow.
// The portal embeds the reservation frontend in an iframe, sometimes opens it
// as a popup, and sometimes needs a reserve button clicked first.
type scopeLocator struct {
	browser *Browser
	config  *Config
	trace   *zap.Logger
}

func newScopeLocator(browser *Browser, config *Config, trace *zap.Logger) *scopeLocator {
	return &scopeLocator{browser: browser, config: config, trace: trace}
}

// scopeScore ranks candidate URLs by how deep into the flow they are. Deeper
// wins: a payment frame is always the right scope when present.
func scopeScore(url string) int {
	// The portal shares the maketicket domain, so only the onestop frontend
	// qualifies as a booking scope.
	lower := strings.ToLower(url)
	if !strings.Contains(lower, "onestop") {
		return 0
	}
	switch {
	case strings.Contains(lower, "payment") || strings.Contains(lower, "order"):
		return 4
	case strings.Contains(lower, "price") || strings.Contains(lower, "tickettype"):
		return 3
	case strings.Contains(lower, "seat") || strings.Contains(lower, "zone"):
		return 2
	case strings.Contains(lower, "booking") || strings.Contains(lower, "/rs"):
		return 1
	default:
		return 1
	}
}

// find scans the page itself and its iframes for a reservation scope and
// returns the deepest one, or nil.
func (l *scopeLocator) find(page *rod.Page) *rod.Page {
	var best *rod.Page
	bestScore := 0

	consider := func(scope *rod.Page) {
		if scope == nil {
			return
		}
		if score := scopeScore(scopeURL(scope)); score > bestScore {
			best = scope
			bestScore = score
		}
	}

	consider(page)

	frames, err := page.Timeout(evalTimeout).Elements("iframe")
	if err == nil {
		for _, el := range frames {
			frame, err := el.Frame()
			if err != nil {
				continue
			}
			consider(frame)
		}
	}

	return best
}

// allScopes lists every scope the worker can see: the page itself, its
// iframes, and every other open tab with theirs, newest first. Popups and
// auxiliary tabs spawned along the way are all in here.
func (l *scopeLocator) allScopes(page *rod.Page) []*rod.Page {
	var scopes []*rod.Page
	add := func(p *rod.Page) {
		if p == nil {
			return
		}
		scopes = append(scopes, p)
		frames, err := p.Timeout(evalTimeout).Elements("iframe")
		if err != nil {
			return
		}
		for _, el := range frames {
			if frame, err := el.Frame(); err == nil {
				scopes = append(scopes, frame)
			}
		}
	}

	add(page)
	pages := l.browser.Pages()
	for i := len(pages) - 1; i >= 0; i-- {
		add(pages[i])
	}
	return scopes
}

// findAnywhere extends find across every open tab and returns the deepest
// scope overall, so a payment popup outranks the embedded booking frame.
func (l *scopeLocator) findAnywhere(page *rod.Page) *rod.Page {
	var best *rod.Page
	bestScore := 0
	for _, scope := range l.allScopes(page) {
		if score := scopeScore(scopeURL(scope)); score > bestScore {
			best = scope
			bestScore = score
		}
	}
	return best
}

// locate runs the full strategy: scan, click reserve-like controls to spawn
// the booking frame, and as a last resort open the booking URL directly in an
// auxiliary tab. The aux tab stays open so its session cookies survive.
func (l *scopeLocator) locate(page *rod.Page, prodSeq, sdSeq string) (*rod.Page, error) {
	deadline := time.Now().Add(time.Duration(l.config.OpenTimeoutSeconds) * time.Second)

	for attempt := 0; time.Now().Before(deadline); attempt++ {
		if scope := l.findAnywhere(page); scope != nil {
			l.trace.Debug("booking scope located",
				zap.Int("attempt", attempt),
				zap.String("url", scopeURL(scope)))
			return scope, nil
		}

		clicked := clickLike(page, msDuration(l.config.ClickTimeoutMs),
			[]string{".btn-reserve", "#btnReserve", "a[href*='onestop']", "button[onclick*='onestop']"},
			`예매|예약|바로\s*예매|reserve|book`)
		if clicked {
			time.Sleep(1200 * time.Millisecond)
			continue
		}

		time.Sleep(800 * time.Millisecond)
	}

	// Direct spawn only works once the identifiers are known. The entry URLs
	// are tried in flow order until one lands on the reservation origin; the
	// winning tab stays open so its session cookies survive.
	if prodSeq != "" && sdSeq != "" {
		for _, entry := range bookingEntryPaths {
			entryURL := sprintQuery(l.config.ReservationURL+entry, prodSeq, sdSeq)
			l.trace.Debug("spawning booking scope directly", zap.String("url", entryURL))

			aux, err := l.browser.OpenPage(entryURL)
			if err != nil {
				l.trace.Debug("direct spawn failed", zap.Error(err))
				continue
			}
			if scope := l.find(aux); scope != nil {
				return scope, nil
			}
			// Redirected off the flow (login, error page): not a scope.
			aux.Close()
		}
	}

	return nil, errScopeNotFound
}
