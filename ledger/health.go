package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/rustyeddy/parity/market"
)

// HealthStatus orders from best to worst.
type HealthStatus string

const (
	HealthOK   HealthStatus = "OK"
	HealthWarn HealthStatus = "WARN"
	HealthFail HealthStatus = "FAIL"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthWarn:
		return 1
	case HealthFail:
		return 2
	}
	return 0
}

// HealthOptions tune Health. Zero values take the defaults noted.
type HealthOptions struct {
	// Window is how many trailing rows are examined. Default 288.
	Window int
	// RestartGraceBars is the number of missed bars between two rows that
	// still counts as a restart rather than an outage.
	RestartGraceBars int
	// MaxFetchFailures is the number of fetch_failed rows tolerated in the
	// window before warning.
	MaxFetchFailures int
	// StaleBars is how far the newest row may trail the newest closed bar
	// before warning. Default 2.
	StaleBars int
	// FailStaleBars is the same bound for failing. Default 12.
	FailStaleBars int
}

func (o HealthOptions) withDefaults() HealthOptions {
	if o.Window <= 0 {
		o.Window = 288
	}
	if o.StaleBars <= 0 {
		o.StaleBars = 2
	}
	if o.FailStaleBars <= o.StaleBars {
		o.FailStaleBars = max(12, o.StaleBars+1)
	}
	return o
}

// HealthCheck is one named finding.
type HealthCheck struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail"`
}

// HealthReport is the worst status over all checks.
type HealthReport struct {
	Status HealthStatus  `json:"status"`
	Rows   int           `json:"rows"`
	LastTS int64         `json:"last_ts_ms,omitempty"`
	Checks []HealthCheck `json:"checks"`
}

func (r *HealthReport) add(name string, s HealthStatus, format string, args ...any) {
	r.Checks = append(r.Checks, HealthCheck{Name: name, Status: s, Detail: fmt.Sprintf(format, args...)})
	if s.rank() > r.Status.rank() {
		r.Status = s
	}
}

// Health inspects the tail of a live decision log: ordering, bar cadence,
// recent fetch and persist failures, and how far it trails now.
func Health(path string, g market.Granularity, now time.Time, opts HealthOptions) (HealthReport, error) {
	opts = opts.withDefaults()
	rep := HealthReport{Status: HealthOK}
	step := g.Millis()
	if step <= 0 {
		return rep, fmt.Errorf("health: invalid granularity %q", g)
	}

	rows, err := TailDecisions(path, opts.Window)
	if errors.Is(err, fs.ErrNotExist) {
		rep.add("ledger", HealthFail, "no decision log at %s", path)
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	rep.Rows = len(rows)
	if len(rows) == 0 {
		rep.add("ledger", HealthFail, "decision log has no rows")
		return rep, nil
	}
	rep.LastTS = rows[len(rows)-1].TSMS
	rep.add("ledger", HealthOK, "%d rows examined", len(rows))

	checkOrder(&rep, rows, g)
	checkCadence(&rep, rows, g, opts)
	checkFailures(&rep, rows, opts)

	expected := g.Floor(now.UnixMilli()) - step
	behind := g.BarsBetween(rep.LastTS, expected)
	switch {
	case behind > int64(opts.FailStaleBars):
		rep.add("staleness", HealthFail, "last row %s is %d bars behind", fmtHealthTS(rep.LastTS), behind)
	case behind > int64(opts.StaleBars):
		rep.add("staleness", HealthWarn, "last row %s is %d bars behind", fmtHealthTS(rep.LastTS), behind)
	default:
		rep.add("staleness", HealthOK, "last row %s", fmtHealthTS(rep.LastTS))
	}
	return rep, nil
}

func checkOrder(rep *HealthReport, rows []DecisionRow, g market.Granularity) {
	var disorder, offGrid int
	for i, r := range rows {
		if !g.Aligned(r.TSMS) {
			offGrid++
		}
		if i > 0 && r.TSMS <= rows[i-1].TSMS {
			disorder++
		}
	}
	switch {
	case disorder > 0:
		rep.add("order", HealthFail, "%d rows not after their predecessor", disorder)
	case offGrid > 0:
		rep.add("order", HealthWarn, "%d rows off the %s grid", offGrid, g)
	default:
		rep.add("order", HealthOK, "strictly increasing")
	}
}

func checkCadence(rep *HealthReport, rows []DecisionRow, g market.Granularity, opts HealthOptions) {
	var restarts, outages int
	var worst int64
	for i := 1; i < len(rows); i++ {
		missed := g.BarsBetween(rows[i-1].TSMS, rows[i].TSMS) - 1
		if missed <= 0 {
			continue
		}
		worst = max(worst, missed)
		if missed <= int64(opts.RestartGraceBars) {
			restarts++
		} else {
			outages++
		}
	}
	if outages > 0 {
		rep.add("cadence", HealthWarn, "%d gaps beyond %d bars, largest %d", outages, opts.RestartGraceBars, worst)
		return
	}
	rep.add("cadence", HealthOK, "%d short gaps", restarts)
}

func checkFailures(rep *HealthReport, rows []DecisionRow, opts HealthOptions) {
	var fetch, persist int
	for _, r := range rows {
		switch r.SkipReason {
		case SkipFetchFailed:
			fetch++
		case SkipPersistFailed:
			persist++
		}
	}
	switch {
	case persist > 0:
		rep.add("failures", HealthWarn, "%d persist_failed, %d fetch_failed", persist, fetch)
	case fetch > opts.MaxFetchFailures:
		rep.add("failures", HealthWarn, "%d fetch_failed, limit %d", fetch, opts.MaxFetchFailures)
	default:
		rep.add("failures", HealthOK, "%d fetch_failed", fetch)
	}
}

func fmtHealthTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
