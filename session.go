package main

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// sessionResolver turns a schedule code into the backend identifiers and
// token a worker needs. Resolution is a waterfall of progressively more
// desperate sources; it never fails outright, it just leaves fields empty.
type sessionResolver struct {
	api     *apiClient
	locator *scopeLocator
	config  *Config
	trace   *zap.Logger
}

func newSessionResolver(api *apiClient, locator *scopeLocator, config *Config, trace *zap.Logger) *sessionResolver {
	return &sessionResolver{api: api, locator: locator, config: config, trace: trace}
}

func zeroPad3(s string) string {
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

// Resolve fills a ShowContext for one schedule code. Identifiers found early
// are never overwritten by later steps; only the token and referers rotate.
func (r *sessionResolver) Resolve(ctx context.Context, scope *rod.Page, code string) *ShowContext {
	sc := &ShowContext{
		ScheduleCode: code,
		ChannelCode:  r.config.ChannelCode,
		SaleTypeCode: r.config.SaleTypeCode,
		SaleCondNo:   "1",
	}

	// 1. DOM, query string and page globals.
	if scope != nil {
		harvested := harvestIdentifiers(scope)
		sc.ProductID = harvested["prodSeq"]
		sc.ScheduleSeq = harvested["sdSeq"]
		sc.PerfDate = harvested["perfDate"]
		sc.CSRFToken = harvested["csrfToken"]
	}

	// 2. Catalog lookup by schedule code.
	if sc.ProductID != "" && sc.ScheduleSeq == "" {
		if seq, date := r.lookupSchedule(ctx, sc.ProductID, code); seq != "" {
			sc.ScheduleSeq = seq
			if sc.PerfDate == "" {
				sc.PerfDate = date
			}
		}
	}

	// 3. Replay the booking entry's startup traffic and watch it for the
	// identifiers. The reload can rebuild the frame tree, so the scope is
	// picked up again afterwards.
	if scope != nil && !sc.Resolved() {
		if prod, seq := r.observeNetwork(scope, 6*time.Second); prod != "" || seq != "" {
			if sc.ProductID == "" {
				sc.ProductID = prod
			}
			if sc.ScheduleSeq == "" {
				sc.ScheduleSeq = seq
			}
		}
		if r.locator != nil {
			if fresh := r.locator.findAnywhere(scope); fresh != nil {
				scope = fresh
			}
		}
	}

	// 4. Reverse lookup of the performance date.
	if sc.Resolved() && sc.PerfDate == "" {
		sc.PerfDate = r.lookupPerfDate(ctx, sc.ProductID, sc.ScheduleSeq)
	}

	// 5. Token-only fallback from cookies.
	if sc.CSRFToken == "" && scope != nil {
		sc.CSRFToken = cookieToken(scope)
	}

	sc.PerfDate = normalizePerfDate(sc.PerfDate)
	if sc.Resolved() {
		sc.RefererRS, sc.RefererSeat = buildReferers(r.config, sc.ProductID, sc.ScheduleSeq)
	}

	r.trace.Debug("session resolved",
		zap.String("prodSeq", sc.ProductID),
		zap.String("sdSeq", sc.ScheduleSeq),
		zap.String("perfDate", sc.PerfDate),
		zap.Bool("token", sc.CSRFToken != ""))

	return sc
}

// lookupSchedule matches a schedule code against the product catalog. Codes
// are zero-padded to three digits; rows without a code fall back to matching
// the padded sequence number.
func (r *sessionResolver) lookupSchedule(ctx context.Context, prodSeq, code string) (sdSeq, perfDate string) {
	rows := r.fetchScheduleRows(ctx, prodSeq)
	want := zeroPad3(code)

	for _, row := range rows {
		rowCode := pickString(row, "sdCode", "sd_code")
		rowSeq := pickString(row, "sdSeq", "sd_seq")
		if rowCode == "" {
			rowCode = zeroPad3(rowSeq)
		}
		if zeroPad3(rowCode) != want {
			continue
		}
		return rowSeq, pickString(row, "perfDate", "perf_date", "sdStartDt", "sd_start_dt")
	}
	return "", ""
}

func (r *sessionResolver) lookupPerfDate(ctx context.Context, prodSeq, sdSeq string) string {
	for _, row := range r.fetchScheduleRows(ctx, prodSeq) {
		if pickString(row, "sdSeq", "sd_seq") == sdSeq {
			return pickString(row, "perfDate", "perf_date", "sdStartDt", "sd_start_dt")
		}
	}
	return ""
}

func (r *sessionResolver) fetchScheduleRows(ctx context.Context, prodSeq string) []map[string]any {
	form := url.Values{}
	form.Set("prodSeq", prodSeq)
	form.Set("chnlCd", r.config.ChannelCode)
	form.Set("saleTycd", r.config.SaleTypeCode)
	form.Set("saleCondNo", "1")

	resp, err := r.api.PostForm(ctx, "/rs/prod", form, "", "")
	if err != nil {
		r.trace.Debug("catalog lookup failed", zap.Error(err))
		return nil
	}

	return dictRows(pickList(resp, "listSch", "list_sch", "schList", "list"))
}

// requestIdentifiers pulls booking identifiers out of an observed request
// URL. Only backend calls carry them; anything else comes back empty.
func requestIdentifiers(raw string) (prodSeq, sdSeq string) {
	if !strings.Contains(raw, "maketicket") {
		return "", ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	q := parsed.Query()
	return q.Get("prodSeq"), q.Get("sdSeq")
}

// observeNetwork reloads the scope so the booking entry replays the API calls
// it makes on load, and pulls prodSeq/sdSeq out of their query strings. The
// scope usually finished loading long before the watch starts, so waiting
// without the reload would observe nothing.
func (r *sessionResolver) observeNetwork(scope *rod.Page, window time.Duration) (prodSeq, sdSeq string) {
	watched := scope.Timeout(window)
	wait := watched.EachEvent(func(e *proto.NetworkRequestWillBeSent) (stop bool) {
		prod, seq := requestIdentifiers(e.Request.URL)
		if prod != "" && prodSeq == "" {
			prodSeq = prod
		}
		if seq != "" && sdSeq == "" {
			sdSeq = seq
		}
		return prodSeq != "" && sdSeq != ""
	})

	go func() {
		if err := watched.Reload(); err != nil {
			r.trace.Debug("scope reload failed", zap.Error(err))
		}
	}()

	wait()
	return prodSeq, sdSeq
}

// PrepareSession replays the call sequence the booking page makes on load so
// the backend session is bound to this schedule before any capacity probe.
// Individual failures are logged and skipped, the chain is about cookies and
// server-side state, not about the responses.
func (r *sessionResolver) PrepareSession(ctx context.Context, sc *ShowContext) {
	base := url.Values{}
	base.Set("prodSeq", sc.ProductID)
	base.Set("sdSeq", sc.ScheduleSeq)
	base.Set("chnlCd", sc.ChannelCode)
	base.Set("saleTycd", sc.SaleTypeCode)

	steps := []struct {
		path  string
		extra map[string]string
	}{
		{"/rs/prod", map[string]string{"saleCondNo": sc.SaleCondNo}},
		{"/rs/prodChk", nil},
		{"/rs/chkProdSdSeq", nil},
		{"/api/v1/rs/informLimit", nil},
		{"/rs/prodSummary", nil},
		{"/rs/blockSummary2", map[string]string{"langCd": "ko", "perfDate": sc.PerfDate}},
	}

	for _, step := range steps {
		form := url.Values{}
		for k, vs := range base {
			form[k] = vs
		}
		for k, v := range step.extra {
			form.Set(k, v)
		}
		if _, err := r.api.PostForm(ctx, step.path, form, sc.RefererRS, sc.CSRFToken); err != nil {
			r.trace.Debug("session prime step failed",
				zap.String("path", step.path), zap.Error(err))
		}
	}
}

// FetchMeta pulls the display title and venue from the product summary.
func (r *sessionResolver) FetchMeta(ctx context.Context, sc *ShowContext) (title, venue string) {
	form := url.Values{}
	form.Set("prodSeq", sc.ProductID)
	form.Set("sdSeq", sc.ScheduleSeq)
	form.Set("chnlCd", sc.ChannelCode)

	resp, err := r.api.PostForm(ctx, "/rs/prodSummary", form, sc.RefererRS, sc.CSRFToken)
	if err != nil {
		return "", ""
	}

	row := firstRow(resp, "summary", "prodSummary", "data")
	if row == nil {
		return "", ""
	}
	title = pickString(row, "prodNm", "prod_nm", "perfNm", "perf_nm", "title")
	venue = pickString(row, "hallNm", "hall_nm", "placeNm", "place_nm", "venueNm")
	return title, venue
}
