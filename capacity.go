package main

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// capacityStrategy is one named way of asking the backend how many seats a
// screening has. Strategies are tried in order; the first one that reports
// any capacity wins and stamps its name on the snapshot.
type capacityStrategy struct {
	name string
	run  func(ctx context.Context) (CapacitySnapshot, error)
}

// runWaterfall executes strategies until one produces a usable count.
// Transport errors mean "try the next one". When every strategy comes back
// empty the result is an explicit zero snapshot with source "none", which
// keeps "no data" distinguishable from a confirmed sold-out count.
func runWaterfall(ctx context.Context, strategies []capacityStrategy, trace *zap.Logger) CapacitySnapshot {
	for _, strategy := range strategies {
		snap, err := strategy.run(ctx)
		if err != nil {
			trace.Debug("capacity strategy failed",
				zap.String("strategy", strategy.name), zap.Error(err))
			continue
		}
		snap = snap.normalize()
		if snap.HasCapacityData() {
			snap.Source = strategy.name
			trace.Debug("capacity resolved",
				zap.String("strategy", strategy.name),
				zap.Int("total", snap.TotalCount()),
				zap.Int("remaining", snap.RemainingCount()))
			return snap
		}
	}

	return CapacitySnapshot{
		Total:     intPtr(0),
		Remaining: intPtr(0),
		Source:    "none",
	}
}

// capacityAggregator probes the seating plan and runs the plan-appropriate
// strategy waterfall.
type capacityAggregator struct {
	api    *apiClient
	config *Config
	trace  *zap.Logger
}

func newCapacityAggregator(api *apiClient, config *Config, trace *zap.Logger) *capacityAggregator {
	return &capacityAggregator{api: api, config: config, trace: trace}
}

func (g *capacityAggregator) Aggregate(ctx context.Context, sc *ShowContext) CapacitySnapshot {
	plan := g.probePlan(ctx, sc)

	var strategies []capacityStrategy
	switch plan {
	case PlanOpenSeating:
		strategies = []capacityStrategy{
			{"blockSummary", func(ctx context.Context) (CapacitySnapshot, error) { return g.blockSummary(ctx, sc) }},
			{"ticketType", func(ctx context.Context) (CapacitySnapshot, error) { return g.ticketType(ctx, sc) }},
			{"scheduleList", func(ctx context.Context) (CapacitySnapshot, error) { return g.scheduleList(ctx, sc) }},
			{"prodSummary", func(ctx context.Context) (CapacitySnapshot, error) { return g.prodSummary(ctx, sc) }},
		}
	case PlanAssignedSeat:
		strategies = []capacityStrategy{
			{"seatStatus", func(ctx context.Context) (CapacitySnapshot, error) { return g.seatStatus(ctx, sc) }},
			{"blockSummary", func(ctx context.Context) (CapacitySnapshot, error) { return g.blockSummary(ctx, sc) }},
			{"zoneScan", func(ctx context.Context) (CapacitySnapshot, error) { return g.zoneScan(ctx, sc) }},
			{"prodSummary", func(ctx context.Context) (CapacitySnapshot, error) { return g.prodSummary(ctx, sc) }},
		}
	default:
		// Plan unknown: try everything, cheapest endpoints first.
		strategies = []capacityStrategy{
			{"blockSummary", func(ctx context.Context) (CapacitySnapshot, error) { return g.blockSummary(ctx, sc) }},
			{"ticketType", func(ctx context.Context) (CapacitySnapshot, error) { return g.ticketType(ctx, sc) }},
			{"seatStatus", func(ctx context.Context) (CapacitySnapshot, error) { return g.seatStatus(ctx, sc) }},
			{"scheduleList", func(ctx context.Context) (CapacitySnapshot, error) { return g.scheduleList(ctx, sc) }},
			{"zoneScan", func(ctx context.Context) (CapacitySnapshot, error) { return g.zoneScan(ctx, sc) }},
			{"prodSummary", func(ctx context.Context) (CapacitySnapshot, error) { return g.prodSummary(ctx, sc) }},
		}
	}

	snap := runWaterfall(ctx, strategies, g.trace)
	snap.Plan = plan
	return snap
}

// probePlan classifies the seating plan from the seat base map. The endpoint
// uses snake_case form fields unlike the /rs/ family.
func (g *capacityAggregator) probePlan(ctx context.Context, sc *ShowContext) PlanKind {
	resp, err := g.api.PostForm(ctx, "/seat/GetRsSeatBaseMap", g.seatForm(sc, nil), sc.RefererSeat, sc.CSRFToken)
	if err != nil {
		g.trace.Debug("plan probe failed", zap.Error(err))
		return PlanUnknown
	}

	row := firstRow(resp, "seatBaseMap", "baseMap", "data")
	if row == nil {
		return PlanUnknown
	}

	plan := strings.ToUpper(pickString(row,
		"planTypeCode", "plan_type_cd", "planTypCd", "planType", "plan_type", "seatTypeCode"))
	switch {
	case plan == "":
		return PlanUnknown
	case strings.Contains(plan, "NRS") || strings.Contains(plan, "FREE") || plan == "RS":
		return PlanOpenSeating
	case strings.Contains(plan, "ZONE") || strings.Contains(plan, "SEAT"):
		return PlanAssignedSeat
	default:
		return PlanUnknown
	}
}

func (g *capacityAggregator) rsForm(sc *ShowContext, extra map[string]string) url.Values {
	form := url.Values{}
	form.Set("prodSeq", sc.ProductID)
	form.Set("sdSeq", sc.ScheduleSeq)
	form.Set("chnlCd", sc.ChannelCode)
	form.Set("saleTycd", sc.SaleTypeCode)
	for k, v := range extra {
		form.Set(k, v)
	}
	return form
}

func (g *capacityAggregator) seatForm(sc *ShowContext, extra map[string]string) url.Values {
	form := url.Values{}
	form.Set("prod_seq", sc.ProductID)
	form.Set("sd_seq", sc.ScheduleSeq)
	form.Set("chnl_cd", sc.ChannelCode)
	form.Set("sale_tycd", sc.SaleTypeCode)
	form.Set("timeStemp", "")
	for k, v := range extra {
		form.Set(k, v)
	}
	return form
}

// blockSummary reads the open-seating block counters. The declared total is
// sometimes smaller than the live availability, so total takes the max.
func (g *capacityAggregator) blockSummary(ctx context.Context, sc *ShowContext) (CapacitySnapshot, error) {
	form := g.rsForm(sc, map[string]string{"langCd": "ko", "perfDate": sc.PerfDate})
	resp, err := g.api.PostForm(ctx, "/rs/blockSummary2", form, sc.RefererRS, sc.CSRFToken)
	if err != nil {
		return CapacitySnapshot{}, err
	}

	row := firstRow(resp, "summary", "blockSummary", "data")
	if row == nil {
		return CapacitySnapshot{}, nil
	}

	avail, availOK := pickInt(row,
		"admissionAvailPersonCnt", "admission_avail_person_cnt", "restSeatCnt", "rest_seat_cnt")
	declared, declaredOK := pickInt(row,
		"admissionTotalPersonCnt", "admission_total_person_cnt",
		"saleSeatCnt", "sale_seat_cnt", "rendrSeatCnt", "rendr_seat_cnt")

	var snap CapacitySnapshot
	if availOK {
		snap.Remaining = intPtr(avail)
		snap.ByCategory = map[string]int{"NRS": avail}
	}
	if declaredOK || availOK {
		total := declared
		if avail > total {
			total = avail
		}
		snap.Total = intPtr(total)
	}
	return snap, nil
}

// ticketType aggregates the NRS rows of the ticket-type listing. The summary
// row has an empty seat number; per-seat rows are summed only when no summary
// row exists.
func (g *capacityAggregator) ticketType(ctx context.Context, sc *ShowContext) (CapacitySnapshot, error) {
	form := g.rsForm(sc, map[string]string{
		"langCd":     "ko",
		"saleCondNo": sc.SaleCondNo,
		"perfDate":   sc.PerfDate,
	})
	resp, err := g.api.PostForm(ctx, "/api/v1/rs/tickettype", form, sc.RefererRS, sc.CSRFToken)
	if err != nil {
		return CapacitySnapshot{}, err
	}

	rows := dictRows(pickList(resp, "seatList", "tickettypeList", "list", "data"))
	total, remain := 0, 0
	found := false

	for _, row := range rows {
		kind := strings.ToUpper(pickString(row, "seatTypeCd", "seat_type_cd", "seatType"))
		if kind != "" && !strings.Contains(kind, "NRS") {
			continue
		}
		avail, availOK := pickInt(row,
			"admissionAvailPersonCnt", "admission_avail_person_cnt", "availCnt", "avail_cnt")
		declared, declaredOK := pickInt(row,
			"admissionTotalPersonCnt", "admission_total_person_cnt",
			"admissionPersonCnt", "admission_person_cnt", "totalCnt", "total_cnt")
		if !availOK && !declaredOK {
			continue
		}

		seatNo := pickString(row, "seatNo", "seat_no")
		if seatNo == "" {
			// Aggregate row wins outright.
			var snap CapacitySnapshot
			if availOK {
				snap.Remaining = intPtr(avail)
			}
			if declaredOK {
				snap.Total = intPtr(declared)
			}
			return snap, nil
		}

		remain += avail
		total += declared
		found = true
	}

	if !found {
		return CapacitySnapshot{}, nil
	}
	return CapacitySnapshot{Total: intPtr(total), Remaining: intPtr(remain)}, nil
}

// scheduleList falls back to the catalog row for this schedule.
func (g *capacityAggregator) scheduleList(ctx context.Context, sc *ShowContext) (CapacitySnapshot, error) {
	form := g.rsForm(sc, map[string]string{"saleCondNo": sc.SaleCondNo})
	resp, err := g.api.PostForm(ctx, "/rs/prod", form, sc.RefererRS, sc.CSRFToken)
	if err != nil {
		return CapacitySnapshot{}, err
	}

	for _, row := range dictRows(pickList(resp, "listSch", "list_sch", "schList", "list")) {
		if pickString(row, "sdSeq", "sd_seq") != sc.ScheduleSeq {
			continue
		}
		var snap CapacitySnapshot
		if remain, ok := pickInt(row, "remainCnt", "remain_cnt", "seatRemainCnt", "seat_remain_cnt"); ok {
			snap.Remaining = intPtr(remain)
		}
		if total, ok := pickInt(row, "seatCnt", "seat_cnt", "seatTotalCnt", "seat_total_cnt", "totalSeatCnt"); ok {
			snap.Total = intPtr(total)
		}
		return snap, nil
	}
	return CapacitySnapshot{}, nil
}

// countSeatRows tallies seat rows: total everything usable, remaining only
// the purchasable status codes. Aggregate rows carry a count field; per-seat
// rows count as one each.
func (g *capacityAggregator) countSeatRows(rows []map[string]any) (total, remain int, byStatus map[string]int) {
	purchasable := map[string]bool{}
	for _, code := range g.config.PurchasableStatusCodes {
		purchasable[code] = true
	}
	byStatus = map[string]int{}

	for _, row := range rows {
		if strings.ToUpper(pickString(row, "useYn", "use_yn")) == "N" {
			continue
		}
		cnt, ok := pickInt(row, "seatCnt", "seat_cnt", "cnt")
		if !ok {
			if pickString(row, "seatId", "seat_id", "seatNo", "seat_no") == "" {
				continue
			}
			cnt = 1
		}
		status := strings.ToUpper(pickString(row, "seatStatusCd", "seat_status_cd", "statusCd", "status_cd", "status"))
		total += cnt
		byStatus[status] += cnt
		if purchasable[status] {
			remain += cnt
		}
	}
	return total, remain, byStatus
}

// seatStatus counts the assigned-seat status list. The endpoint answers the
// snake_case form on some shows and the camelCase form on others.
func (g *capacityAggregator) seatStatus(ctx context.Context, sc *ShowContext) (CapacitySnapshot, error) {
	rows, err := g.fetchSeatStatusRows(ctx, sc)
	if err != nil {
		return CapacitySnapshot{}, err
	}
	if len(rows) == 0 {
		return CapacitySnapshot{}, nil
	}

	total, remain, byStatus := g.countSeatRows(rows)
	if total == 0 && remain == 0 {
		return CapacitySnapshot{}, nil
	}
	return CapacitySnapshot{
		Total:      intPtr(total),
		Remaining:  intPtr(remain),
		ByCategory: byStatus,
	}, nil
}

func (g *capacityAggregator) fetchSeatStatusRows(ctx context.Context, sc *ShowContext) ([]map[string]any, error) {
	resp, err := g.api.PostForm(ctx, "/seat/GetRsSeatStatusList", g.seatForm(sc, nil), sc.RefererSeat, sc.CSRFToken)
	if err == nil {
		if rows := dictRows(pickList(resp, "seatStatusList", "seat_status_list", "list", "data")); len(rows) > 0 {
			return rows, nil
		}
	}

	// Camel retry.
	form := g.rsForm(sc, nil)
	form.Set("timeStemp", "")
	resp, err2 := g.api.PostForm(ctx, "/seat/GetRsSeatStatusList", form, sc.RefererSeat, sc.CSRFToken)
	if err2 != nil {
		if err != nil {
			return nil, err
		}
		return nil, err2
	}
	return dictRows(pickList(resp, "seatStatusList", "seat_status_list", "list", "data")), nil
}

// zoneScan walks every zone of the base map and sums usable seats. Expensive,
// so it sits late in the waterfall.
func (g *capacityAggregator) zoneScan(ctx context.Context, sc *ShowContext) (CapacitySnapshot, error) {
	resp, err := g.api.PostForm(ctx, "/seat/GetRsSeatBaseMap", g.seatForm(sc, nil), sc.RefererSeat, sc.CSRFToken)
	if err != nil {
		return CapacitySnapshot{}, err
	}

	zones := dictRows(pickList(resp, "zoneList", "zones", "list", "items", "data"))
	if len(zones) == 0 {
		return CapacitySnapshot{}, nil
	}

	total, remain := 0, 0
	byZone := map[string]int{}
	found := false

	for _, zone := range zones {
		zoneID := pickString(zone, "zoneId", "zone_id", "id", "zid")
		if zoneID == "" {
			continue
		}
		zoneResp, err := g.api.PostForm(ctx, "/seat/GetRsZoneSeatMapInfo",
			g.seatForm(sc, map[string]string{"zone_id": zoneID}), sc.RefererSeat, sc.CSRFToken)
		if err != nil {
			g.trace.Debug("zone fetch failed", zap.String("zone", zoneID), zap.Error(err))
			continue
		}
		rows := dictRows(pickList(zoneResp, "seatList", "seat_list", "list", "data"))
		zTotal, zRemain, _ := g.countSeatRows(rows)
		if zTotal == 0 && zRemain == 0 {
			continue
		}
		total += zTotal
		remain += zRemain
		byZone[zoneID] = zRemain
		found = true
	}

	if !found {
		return CapacitySnapshot{}, nil
	}
	return CapacitySnapshot{
		Total:      intPtr(total),
		Remaining:  intPtr(remain),
		ByCategory: byZone,
	}, nil
}

// prodSummary is the least specific counter and therefore the last resort.
func (g *capacityAggregator) prodSummary(ctx context.Context, sc *ShowContext) (CapacitySnapshot, error) {
	form := g.rsForm(sc, nil)
	resp, err := g.api.PostForm(ctx, "/rs/prodSummary", form, sc.RefererRS, sc.CSRFToken)
	if err != nil {
		return CapacitySnapshot{}, err
	}

	row := firstRow(resp, "summary", "prodSummary", "data")
	if row == nil {
		return CapacitySnapshot{}, nil
	}

	var snap CapacitySnapshot
	if remain, ok := pickInt(row, "remainCnt", "remain_cnt", "rsvPsbCnt", "rsv_psb_cnt"); ok {
		snap.Remaining = intPtr(remain)
	}
	if total, ok := pickInt(row, "totalSeatCnt", "total_seat_cnt", "seatCnt", "seat_cnt",
		"admissionTotalPersonCnt", "admission_total_person_cnt"); ok {
		snap.Total = intPtr(total)
	}
	return snap, nil
}
