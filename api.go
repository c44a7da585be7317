package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// apiClient talks to the reservation API with a session lifted out of the
// browser. Cookies are copied from the logged-in page into a plain cookie
// jar; every call is a form-encoded POST the way the booking frontend does
// it, with the Origin and Referer of the reservation frontend.
type apiClient struct {
	client    *http.Client
	config    *Config
	trace     *zap.Logger
	userAgent string
}

// apiError is a non-2xx response. Capacity strategies treat it as "try the
// next endpoint", not as a hard failure.
type apiError struct {
	Status int
	URL    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api returned HTTP %d: %s", e.Status, e.URL)
}

func newAPIClient(config *Config, trace *zap.Logger) (*apiClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &apiClient{
		client:    client,
		config:    config,
		trace:     trace,
		userAgent: defaultUserAgent,
	}, nil
}

// SeedFromPage copies the browser session into the jar. Cookies are read for
// each backend origin so the portal login carries over to the API host.
func (a *apiClient) SeedFromPage(page *rod.Page) error {
	if page == nil {
		return fmt.Errorf("browser page not initialized")
	}

	origins := []string{a.config.PortalURL, a.config.ReservationURL, a.config.APIURL}
	total := 0
	for _, origin := range origins {
		cookies, err := page.Cookies([]string{origin})
		if err != nil {
			return fmt.Errorf("failed to get cookies for %s: %w", origin, err)
		}

		u, err := url.Parse(origin)
		if err != nil {
			return err
		}

		var converted []*http.Cookie
		for _, cookie := range cookies {
			var expires time.Time
			if cookie.Expires > 0 {
				expires = time.Unix(int64(cookie.Expires), 0)
			}
			converted = append(converted, &http.Cookie{
				Name:     cookie.Name,
				Value:    cookie.Value,
				Path:     cookie.Path,
				Domain:   cookie.Domain,
				Expires:  expires,
				Secure:   cookie.Secure,
				HttpOnly: cookie.HTTPOnly,
			})
		}
		a.client.Jar.SetCookies(u, converted)
		total += len(converted)
	}

	userAgentResult, err := page.Eval(`() => navigator.userAgent`)
	if err == nil && userAgentResult.Value.Str() != "" {
		a.userAgent = userAgentResult.Value.Str()
	}

	a.trace.Debug("session seeded from browser", zap.Int("cookies", total))
	return nil
}

// needsCSRF mirrors the backend: everything under /rs/ and /seat/ wants the
// token except the product catalog itself.
func needsCSRF(path string) bool {
	if strings.HasSuffix(path, "/prod") {
		return false
	}
	return strings.HasPrefix(path, "/rs/") ||
		strings.HasPrefix(path, "/seat/") ||
		strings.HasPrefix(path, "/api/v1/rs/") ||
		strings.HasPrefix(path, "/api/v1/seat/")
}

// PostForm issues one form-encoded POST against the API origin and decodes
// the response leniently. referer may be empty, in which case the generic
// booking page referer is sent. The csrf token travels per call, from the
// worker's own ShowContext, so token rotation never crosses workers.
func (a *apiClient) PostForm(ctx context.Context, path string, form url.Values, referer, csrf string) (any, error) {
	endpoint := a.config.APIURL + path

	if referer == "" {
		referer = a.config.ReservationURL + "/ko/onestop/booking"
	}

	if csrf != "" && needsCSRF(path) && form.Get("csrfToken") == "" {
		form.Set("csrfToken", csrf)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Origin", a.config.ReservationURL)
	req.Header.Set("Referer", referer)
	if csrf != "" && needsCSRF(path) {
		req.Header.Set("X-CSRF-TOKEN", csrf)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	a.trace.Debug("api call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{Status: resp.StatusCode, URL: endpoint}
	}

	return decodeLoose(body)
}

// decodeLoose parses a JSON body that may arrive as text/plain or wrapped in
// whitespace. An empty body decodes to nil rather than an error.
func decodeLoose(body []byte) (any, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return v, nil
}

// The backend is inconsistent about field naming: the same value shows up as
// snake_case on one endpoint and camelCase on another, numbers arrive as
// strings, lists hide under different wrapper keys. These pickers accept all
// observed shapes.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				return strings.TrimSpace(t)
			}
		case float64:
			return strconv.FormatInt(int64(t), 10)
		case bool:
			return strconv.FormatBool(t)
		}
	}
	return ""
}

func pickInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int(t), true
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				continue
			}
			if n, err := strconv.Atoi(s); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// pickList digs a list out of v: either v is the list, or the list sits under
// one of the wrapper keys.
func pickList(v any, keys ...string) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	m := asMap(v)
	if m == nil {
		return nil
	}
	for _, k := range keys {
		if list, ok := m[k].([]any); ok {
			return list
		}
	}
	return nil
}

// dictRows keeps only the object rows of a list.
func dictRows(list []any) []map[string]any {
	var rows []map[string]any
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

// firstRow unwraps responses that hold a single object either directly or as
// a one-element list under a wrapper key.
func firstRow(v any, keys ...string) map[string]any {
	m := asMap(v)
	if m == nil {
		if rows := dictRows(pickList(v)); len(rows) > 0 {
			return rows[0]
		}
		return nil
	}
	for _, k := range keys {
		child, ok := m[k]
		if !ok {
			continue
		}
		if cm := asMap(child); cm != nil {
			return cm
		}
		if rows := dictRows(pickList(child)); len(rows) > 0 {
			return rows[0]
		}
	}
	return m
}

// buildReferers constructs the two referer URLs the seat endpoints check.
func buildReferers(config *Config, prodSeq, sdSeq string) (rs, seat string) {
	q := url.Values{}
	q.Set("prodSeq", prodSeq)
	q.Set("sdSeq", sdSeq)
	rs = config.ReservationURL + "/ko/onestop/rs?" + q.Encode()
	seat = config.ReservationURL + "/ko/onestop/rs/seat?" + q.Encode()
	return rs, seat
}
