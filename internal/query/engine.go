// Package query turns graph requests — one or many sensor/metric selections
// plus a time window — into a single aligned table of rows, downsampled to a
// point budget.
package query

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homesense/homesense/internal/models"
	"github.com/homesense/homesense/internal/store"
)

// ErrInvalidArgument marks requests rejected before any work is done.
var ErrInvalidArgument = errors.New("invalid argument")

// Tunables for the recent-biased downsampler. The split is a product choice,
// not an invariant: the dashboard wants full resolution on recent data and a
// representative shape for the rest.
const (
	recentFraction = 0.7
	olderFraction  = 0.3
)

// Request describes one chart query. Either Relative carries a window token
// ("24h", "7d", "2w" or "all") or Start/End give an explicit range.
type Request struct {
	Selections  []models.Selection
	Start       time.Time
	End         time.Time
	Relative    string
	PointBudget int
}

// Engine answers chart queries against the shard store.
type Engine struct {
	store *store.Store
	now   func() time.Time
}

// NewEngine creates a query engine.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s, now: time.Now}
}

// Execute resolves the request window, reads every selected series across
// the shards the window intersects, aligns them on the union of their
// timestamps, and downsamples to the point budget. Unreadable shards
// contribute nothing; the result is best-effort partial data rather than an
// error.
func (e *Engine) Execute(req Request) (models.QueryResult, error) {
	if req.PointBudget <= 0 {
		return models.QueryResult{}, fmt.Errorf("%w: point budget must be positive, got %d", ErrInvalidArgument, req.PointBudget)
	}
	if len(req.Selections) == 0 {
		return models.QueryResult{Rows: []models.AlignedRow{}}, nil
	}

	window, ok, err := e.resolveWindow(req)
	if err != nil {
		return models.QueryResult{}, err
	}
	if !ok {
		// "all available data" over empty storage.
		return models.QueryResult{Rows: []models.AlignedRow{}}, nil
	}

	series := e.gather(req.Selections, window)
	rows := align(series)
	rows = downsample(rows, req.PointBudget)

	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })

	log.Debug().
		Int("selections", len(req.Selections)).
		Int("rows", len(rows)).
		Time("start", window.start).
		Time("end", window.end).
		Msg("Query executed")

	return models.QueryResult{Rows: rows, Count: len(rows)}, nil
}

type window struct {
	start time.Time
	end   time.Time
}

// resolveWindow turns the requested window into absolute bounds. The
// "all" token resolves against the timestamps actually present in storage
// rather than the wall clock. ok is false when "all" finds no data.
func (e *Engine) resolveWindow(req Request) (window, bool, error) {
	if req.Relative != "" {
		if req.Relative == "all" {
			min, max, ok := e.store.TimeBounds()
			if !ok {
				return window{}, false, nil
			}
			return window{start: min, end: max}, true, nil
		}
		dur, err := ParseRelativeToken(req.Relative)
		if err != nil {
			return window{}, false, err
		}
		end := e.now().UTC()
		return window{start: end.Add(-dur), end: end}, true, nil
	}

	if req.Start.IsZero() || req.End.IsZero() {
		return window{}, false, fmt.Errorf("%w: window requires start and end or a relative token", ErrInvalidArgument)
	}
	if req.End.Before(req.Start) {
		return window{}, false, fmt.Errorf("%w: window end precedes start", ErrInvalidArgument)
	}
	return window{start: req.Start.UTC(), end: req.End.UTC()}, true, nil
}

// pairSeries is one selected (sensor, metric) pair's readings inside the
// window, deduplicated by timestamp with the later-ingested value winning.
type pairSeries struct {
	key    models.SeriesKey
	values map[int64]*float64
}

// gather reads each selected pair from every shard intersecting the window
// and filters to [start, end].
func (e *Engine) gather(selections []models.Selection, w window) []pairSeries {
	weeks := e.store.ListShardsInRange(w.start, w.end)

	var out []pairSeries
	for _, sel := range selections {
		for _, metric := range sel.Metrics {
			ps := pairSeries{
				key:    models.SeriesKey{SensorID: sel.SensorID, Metric: metric},
				values: make(map[int64]*float64),
			}
			for _, week := range weeks {
				series, ok := e.store.Read(sel.SensorID, metric, week)
				if !ok {
					continue
				}
				for i, ts := range series.Timestamps {
					if ts.Before(w.start) || ts.After(w.end) {
						continue
					}
					// Later reads overwrite earlier ones at the
					// same instant.
					ps.values[ts.UnixNano()] = series.Values[i]
				}
			}
			out = append(out, ps)
		}
	}
	return out
}

// align builds one row per distinct timestamp in the union of all selected
// series. A pair with no reading at an instant stays nil — absent data is
// never interpolated.
func align(series []pairSeries) []models.AlignedRow {
	union := make(map[int64]struct{})
	for _, ps := range series {
		for ts := range ps.values {
			union[ts] = struct{}{}
		}
	}
	if len(union) == 0 {
		return []models.AlignedRow{}
	}

	stamps := make([]int64, 0, len(union))
	for ts := range union {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	rows := make([]models.AlignedRow, 0, len(stamps))
	for _, ts := range stamps {
		row := models.AlignedRow{
			Timestamp: time.Unix(0, ts).UTC(),
			Values:    make(map[string]*float64, len(series)),
		}
		for _, ps := range series {
			if v, ok := ps.values[ts]; ok {
				row.Values[ps.key.String()] = v
			} else {
				row.Values[ps.key.String()] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// downsample enforces the point budget: the most recent recentFraction of
// the budget is kept verbatim, the remaining older rows are evenly strided
// down to the olderFraction share. Input must be sorted ascending.
func downsample(rows []models.AlignedRow, budget int) []models.AlignedRow {
	if len(rows) <= budget {
		return rows
	}

	recentCount := int(recentFraction * float64(budget))
	if recentCount < 1 {
		// Tiny budgets still favor the newest rows.
		recentCount = 1
	}
	olderBudget := budget - recentCount

	split := len(rows) - recentCount
	older := rows[:split]
	recent := rows[split:]

	if olderBudget < 1 {
		return recent
	}

	stride := len(older) / olderBudget
	if stride < 1 {
		stride = 1
	}

	sampled := make([]models.AlignedRow, 0, budget)
	for i := 0; i < len(older) && len(sampled) < olderBudget; i += stride {
		sampled = append(sampled, older[i])
	}
	return append(sampled, recent...)
}

// maxWindowUnits bounds the count in a relative window token. 10000 weeks is
// far beyond any retention horizon and still fits a time.Duration.
const maxWindowUnits = 10000

// ParseRelativeToken parses window tokens of the form "<n>h", "<n>d" or
// "<n>w" into a duration.
func ParseRelativeToken(token string) (time.Duration, error) {
	if len(token) < 2 {
		return 0, fmt.Errorf("%w: malformed window token %q", ErrInvalidArgument, token)
	}

	unit := token[len(token)-1]
	digits := token[:len(token)-1]
	if len(digits) > 5 {
		return 0, fmt.Errorf("%w: window token %q out of range", ErrInvalidArgument, token)
	}
	var n int
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: malformed window token %q", ErrInvalidArgument, token)
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: zero-length window token %q", ErrInvalidArgument, token)
	}
	if n > maxWindowUnits {
		return 0, fmt.Errorf("%w: window token %q out of range", ErrInvalidArgument, token)
	}

	switch unit {
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown window unit in %q", ErrInvalidArgument, token)
	}
}
