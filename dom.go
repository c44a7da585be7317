package main

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
)

// Helpers for poking at a booking scope (tab or iframe). Everything here is
// best-effort: the markup differs between shows, so failures return zero
// values instead of errors and the caller moves on.

const evalTimeout = 3 * time.Second

// scopeURL reads the scope location without touching page info, which is
// unreliable for cross-origin iframes.
func scopeURL(scope *rod.Page) string {
	if scope == nil {
		return ""
	}
	res, err := scope.Timeout(evalTimeout).Eval(`() => location.href`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// countSelector returns how many elements match, zero when the scope is gone.
func countSelector(scope *rod.Page, selector string) int {
	res, err := scope.Timeout(evalTimeout).Eval(
		`sel => document.querySelectorAll(sel).length`, selector)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// clickLike clicks the first control matching one of the selectors, falling
// back to a text scan over buttons and links. Returns whether anything was
// clicked. Clicks go through JS so hidden-but-wired controls still fire.
// timeout bounds the whole click attempt (Config.ClickTimeoutMs).
func clickLike(scope *rod.Page, timeout time.Duration, selectors []string, textPattern string) bool {
	if timeout <= 0 {
		timeout = evalTimeout
	}
	deadline := time.Now().Add(timeout)
	for _, sel := range selectors {
		if !time.Now().Before(deadline) {
			return false
		}
		res, err := scope.Timeout(evalTimeout).Eval(`sel => {
			const el = document.querySelector(sel);
			if (!el) return false;
			el.click();
			return true;
		}`, sel)
		if err == nil && res.Value.Bool() {
			return true
		}
	}

	if textPattern == "" || !time.Now().Before(deadline) {
		return false
	}

	res, err := scope.Timeout(evalTimeout).Eval(`pattern => {
		const re = new RegExp(pattern, 'i');
		const candidates = document.querySelectorAll("button, a, input[type='button'], input[type='submit'], [role='button']");
		for (const el of candidates) {
			const label = (el.innerText || el.value || el.title || '').trim();
			if (label && re.test(label)) {
				el.click();
				return true;
			}
		}
		return false;
	}`, textPattern)
	return err == nil && res.Value.Bool()
}

// clickProceed advances the flow one step. The markup uses a handful of
// next-button shapes plus localized labels.
func clickProceed(scope *rod.Page, timeout time.Duration) bool {
	selectors := []string{
		"#btnNext", ".btn-next", "button.next", "a.next",
		"#nextBtn", ".btnNext", "button[onclick*='next']",
	}
	return clickLike(scope, timeout, selectors, `다음|다음단계|결제|좌석\s*선택|next|proceed|continue`)
}

// setQuantityOne forces the ticket quantity to exactly one. Tries the native
// select, then a numeric input, then a custom dropdown, then writes the value
// directly and fires a change event so the page recomputes totals.
func setQuantityOne(scope *rod.Page) bool {
	res, err := scope.Timeout(evalTimeout).Eval(`() => {
		const fire = el => {
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
		};

		const selects = document.querySelectorAll(
			"select[name='rsVolume'], #rsVolume, select[id^='volume_'], select[name*='volume'], select[name*='cnt'], select[name*='qty']");
		for (const sel of selects) {
			for (const opt of sel.options) {
				if (opt.value === '1' || opt.text.trim() === '1') {
					sel.value = opt.value;
					fire(sel);
					return 'select';
				}
			}
		}

		const inputs = document.querySelectorAll(
			"input[type='number'], input[name*='cnt'], input[name*='qty']");
		for (const input of inputs) {
			input.value = '1';
			fire(input);
			return 'input';
		}

		const dropdowns = document.querySelectorAll('.ticket-count, .count-select, [data-count]');
		for (const dd of dropdowns) {
			const one = dd.querySelector("[data-value='1'], li, option");
			if (one) {
				one.click();
				return 'dropdown';
			}
		}

		const hidden = document.querySelector("input[name='rsVolume'], input[name='selectedCnt']");
		if (hidden) {
			hidden.value = '1';
			fire(hidden);
			return 'hidden';
		}

		return '';
	}`)
	return err == nil && res.Value.Str() != ""
}

// checkConsentBoxes ticks the agreement checkboxes the checkout page gates
// the next button on. Bounded so a preferences panel cannot soak it.
func checkConsentBoxes(scope *rod.Page) int {
	res, err := scope.Timeout(evalTimeout).Eval(`() => {
		let checked = 0;
		const boxes = document.querySelectorAll("input[type='checkbox']");
		for (const box of boxes) {
			if (checked >= 8) break;
			if (!box.checked) {
				box.checked = true;
				box.dispatchEvent(new Event('change', {bubbles: true}));
				checked++;
			}
		}
		return checked;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// clearOverlays removes modal dim layers that swallow clicks.
func clearOverlays(scope *rod.Page) {
	scope.Timeout(evalTimeout).Eval(`() => {
		for (const el of document.querySelectorAll('.dim, .dimmed, .modal-backdrop, .layer-dim')) {
			el.remove();
		}
	}`)
}

// findTitle scrapes a display title from the page for the batch report.
func findTitle(page *rod.Page) string {
	res, err := page.Timeout(evalTimeout).Eval(`() => {
		const og = document.querySelector("meta[property='og:title']");
		if (og && og.content) return og.content.trim();
		for (const sel of ['h1', 'h2', '.title', '.prod-title', '.movie-title']) {
			const el = document.querySelector(sel);
			if (el && el.innerText.trim()) return el.innerText.trim();
		}
		return document.title || '';
	}`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// harvestIdentifiers pulls booking identifiers out of hidden inputs, the
// query string and well-known globals, in that order of trust.
func harvestIdentifiers(scope *rod.Page) map[string]string {
	res, err := scope.Timeout(evalTimeout).Eval(`() => {
		const out = {};
		const take = (key, value) => {
			if (value && !out[key]) out[key] = String(value).trim();
		};

		for (const id of ['prodSeq', 'sdSeq', 'perfDate', 'sdCode', 'csrfToken']) {
			const el = document.querySelector('#' + id + ", input[name='" + id + "']");
			if (el) take(id, el.value);
		}

		const params = new URLSearchParams(location.search);
		for (const key of ['prodSeq', 'sdSeq', 'perfDate', 'sdCode']) {
			take(key, params.get(key));
		}

		const info = window.ONE_STOP_INFO || window.oneStopInfo || {};
		take('prodSeq', info.prodSeq);
		take('sdSeq', info.sdSeq);
		take('perfDate', info.perfDate);

		if (window._csrf && window._csrf.token) take('csrfToken', window._csrf.token);
		const meta = document.querySelector("meta[name='_csrf'], meta[name='csrf-token']");
		if (meta) take('csrfToken', meta.content);

		return out;
	}`)
	out := map[string]string{}
	if err != nil {
		return out
	}
	for k, v := range res.Value.Map() {
		if s := v.Str(); s != "" {
			out[k] = s
		}
	}
	return out
}

// cookieToken reads a CSRF token cookie visible to the scope.
func cookieToken(scope *rod.Page) string {
	res, err := scope.Timeout(evalTimeout).Eval(`() => {
		for (const pair of document.cookie.split(';')) {
			const [name, value] = pair.trim().split('=');
			if (name === 'XSRF-TOKEN' || name === 'CSRF-TOKEN') {
				return decodeURIComponent(value || '');
			}
		}
		return '';
	}`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func sprintQuery(base, prodSeq, sdSeq string) string {
	return fmt.Sprintf("%s?prodSeq=%s&sdSeq=%s", base, prodSeq, sdSeq)
}
