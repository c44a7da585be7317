package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestPickStringAcceptsBothNamingStyles(t *testing.T) {
	snake := map[string]any{"sd_seq": "001"}
	camel := map[string]any{"sdSeq": "001"}

	if got := pickString(snake, "sdSeq", "sd_seq"); got != "001" {
		t.Errorf("Expected '001' from snake_case row, got %q", got)
	}
	if got := pickString(camel, "sdSeq", "sd_seq"); got != "001" {
		t.Errorf("Expected '001' from camelCase row, got %q", got)
	}
}

func TestPickStringCoercesNumbers(t *testing.T) {
	row := map[string]any{"prodSeq": float64(5126)}
	if got := pickString(row, "prodSeq"); got != "5126" {
		t.Errorf("Expected '5126', got %q", got)
	}
}

func TestPickStringSkipsEmptyValues(t *testing.T) {
	row := map[string]any{"sdSeq": "  ", "sd_seq": "007"}
	if got := pickString(row, "sdSeq", "sd_seq"); got != "007" {
		t.Errorf("Expected fallthrough to '007', got %q", got)
	}
}

func TestPickInt(t *testing.T) {
	tests := []struct {
		name     string
		row      map[string]any
		keys     []string
		expected int
		ok       bool
	}{
		{"number", map[string]any{"remainCnt": float64(40)}, []string{"remainCnt"}, 40, true},
		{"numeric string", map[string]any{"remain_cnt": "40"}, []string{"remainCnt", "remain_cnt"}, 40, true},
		{"zero is a value", map[string]any{"remainCnt": float64(0)}, []string{"remainCnt"}, 0, true},
		{"missing", map[string]any{}, []string{"remainCnt"}, 0, false},
		{"garbage string", map[string]any{"remainCnt": "n/a"}, []string{"remainCnt"}, 0, false},
	}

	for _, tt := range tests {
		got, ok := pickInt(tt.row, tt.keys...)
		if got != tt.expected || ok != tt.ok {
			t.Errorf("%s: pickInt = (%d, %v), expected (%d, %v)", tt.name, got, ok, tt.expected, tt.ok)
		}
	}
}

func TestPickListFindsWrappedLists(t *testing.T) {
	direct := []any{map[string]any{"a": "1"}}
	wrapped := map[string]any{"seatList": []any{map[string]any{"a": "1"}}}

	if got := pickList(direct, "seatList"); len(got) != 1 {
		t.Errorf("Expected direct list passthrough, got %d items", len(got))
	}
	if got := pickList(wrapped, "list", "seatList"); len(got) != 1 {
		t.Errorf("Expected wrapped list found, got %d items", len(got))
	}
	if got := pickList(wrapped, "other"); got != nil {
		t.Errorf("Expected nil for missing key, got %v", got)
	}
}

func TestFirstRowUnwrapsSingleObjectShapes(t *testing.T) {
	asObject := map[string]any{"summary": map[string]any{"remainCnt": float64(3)}}
	asList := map[string]any{"summary": []any{map[string]any{"remainCnt": float64(3)}}}

	for _, v := range []any{asObject, asList} {
		row := firstRow(v, "summary")
		if row == nil {
			t.Fatal("firstRow returned nil")
		}
		if n, ok := pickInt(row, "remainCnt"); !ok || n != 3 {
			t.Errorf("Expected remainCnt 3, got %d (ok=%v)", n, ok)
		}
	}
}

func TestDecodeLoose(t *testing.T) {
	v, err := decodeLoose([]byte("  {\"a\": 1}\n"))
	if err != nil {
		t.Fatalf("decodeLoose failed: %v", err)
	}
	if asMap(v) == nil {
		t.Error("Expected an object")
	}

	v, err = decodeLoose([]byte("   "))
	if err != nil || v != nil {
		t.Errorf("Expected nil for empty body, got %v (err=%v)", v, err)
	}

	if _, err := decodeLoose([]byte("<html>")); err == nil {
		t.Error("Expected error for non-JSON body")
	}
}

func TestNeedsCSRF(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/rs/prod", false},
		{"/rs/blockSummary2", true},
		{"/rs/prodSummary", true},
		{"/seat/GetRsSeatStatusList", true},
		{"/api/v1/rs/tickettype", true},
		{"/api/v1/rs/informLimit", true},
		{"/other/thing", false},
	}

	for _, tt := range tests {
		if got := needsCSRF(tt.path); got != tt.expected {
			t.Errorf("needsCSRF(%q) = %v, expected %v", tt.path, got, tt.expected)
		}
	}
}

func TestBuildReferers(t *testing.T) {
	config := DefaultConfig()
	rs, seat := buildReferers(config, "5126", "001")

	if !strings.Contains(rs, "/ko/onestop/rs?") || !strings.Contains(rs, "prodSeq=5126") || !strings.Contains(rs, "sdSeq=001") {
		t.Errorf("Unexpected rs referer: %s", rs)
	}
	if !strings.Contains(seat, "/ko/onestop/rs/seat?") || !strings.Contains(seat, "prodSeq=5126") {
		t.Errorf("Unexpected seat referer: %s", seat)
	}
}

func TestPostFormSendsBookingHeaders(t *testing.T) {
	var gotReq *http.Request
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotReq = r
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIURL = server.URL

	api, err := newAPIClient(config, zap.NewNop())
	if err != nil {
		t.Fatalf("newAPIClient failed: %v", err)
	}

	form := url.Values{}
	form.Set("prodSeq", "5126")
	resp, err := api.PostForm(context.Background(), "/rs/blockSummary2", form, "", "tok-123")
	if err != nil {
		t.Fatalf("PostForm failed: %v", err)
	}
	if asMap(resp) == nil {
		t.Error("Expected decoded object response")
	}

	if gotReq.Method != "POST" {
		t.Errorf("Expected POST, got %s", gotReq.Method)
	}
	if ct := gotReq.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		t.Errorf("Unexpected content type: %s", ct)
	}
	if gotReq.Header.Get("X-Requested-With") != "XMLHttpRequest" {
		t.Error("Expected XMLHttpRequest header")
	}
	if gotReq.Header.Get("X-CSRF-TOKEN") != "tok-123" {
		t.Errorf("Expected CSRF header, got %q", gotReq.Header.Get("X-CSRF-TOKEN"))
	}
	if gotReq.Header.Get("Origin") != config.ReservationURL {
		t.Errorf("Expected reservation origin, got %q", gotReq.Header.Get("Origin"))
	}
	if !strings.Contains(gotReq.Header.Get("Referer"), "/ko/onestop/booking") {
		t.Errorf("Expected booking referer default, got %q", gotReq.Header.Get("Referer"))
	}
	if gotForm.Get("prodSeq") != "5126" {
		t.Errorf("Expected form field prodSeq, got %q", gotForm.Get("prodSeq"))
	}
	if gotForm.Get("csrfToken") != "tok-123" {
		t.Errorf("Expected csrfToken injected into form, got %q", gotForm.Get("csrfToken"))
	}
}

func TestPostFormNoCSRFOnCatalog(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-CSRF-TOKEN")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIURL = server.URL

	api, _ := newAPIClient(config, zap.NewNop())

	if _, err := api.PostForm(context.Background(), "/rs/prod", url.Values{}, "", "tok-123"); err != nil {
		t.Fatalf("PostForm failed: %v", err)
	}
	if gotHeader != "" {
		t.Errorf("Catalog endpoint should not get the CSRF header, got %q", gotHeader)
	}
}

// Two workers post with different tokens through the same client: each call
// must carry exactly the token it was given, never a cached one.
func TestPostFormTokenIsPerCall(t *testing.T) {
	var mu sync.Mutex
	var headers []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = append(headers, r.Header.Get("X-CSRF-TOKEN"))
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIURL = server.URL

	api, _ := newAPIClient(config, zap.NewNop())

	if _, err := api.PostForm(context.Background(), "/rs/blockSummary2", url.Values{}, "", "tok-A"); err != nil {
		t.Fatalf("PostForm failed: %v", err)
	}
	if _, err := api.PostForm(context.Background(), "/rs/blockSummary2", url.Values{}, "", "tok-B"); err != nil {
		t.Fatalf("PostForm failed: %v", err)
	}
	if _, err := api.PostForm(context.Background(), "/rs/blockSummary2", url.Values{}, "", ""); err != nil {
		t.Fatalf("PostForm failed: %v", err)
	}

	expected := []string{"tok-A", "tok-B", ""}
	if len(headers) != len(expected) {
		t.Fatalf("Expected %d calls, got %d", len(expected), len(headers))
	}
	for i, want := range expected {
		if headers[i] != want {
			t.Errorf("Call %d: expected token %q, got %q", i, want, headers[i])
		}
	}
}

func TestPostFormReturnsAPIErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.APIURL = server.URL

	api, _ := newAPIClient(config, zap.NewNop())

	_, err := api.PostForm(context.Background(), "/rs/blockSummary2", url.Values{}, "", "")
	if err == nil {
		t.Fatal("Expected error for HTTP 500")
	}

	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *apiError, got %T", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", apiErr.Status)
	}
}
