package csvimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/fileutil"
	"github.com/wonny/meritorder/pkg/logger"
)

// Store keeps imported series as one JSON file per metric and serves them
// like a fetcher
type Store struct {
	dir    string
	logger *logger.Logger
	mu     sync.Mutex
}

// NewStore creates a store rooted at dir
func NewStore(dir string, log *logger.Logger) *Store {
	return &Store{dir: dir, logger: log.WithComponent("csvimport")}
}

func (s *Store) path(m contracts.Metric) string {
	return filepath.Join(s.dir, string(m)+".json")
}

// Load returns the stored series of a metric
func (s *Store) Load(m contracts.Metric) (*contracts.RawSeries, bool, error) {
	data, err := os.ReadFile(s.path(m))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read imported %s: %w", m, err)
	}
	var series contracts.RawSeries
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, false, fmt.Errorf("decode imported %s: %w", m, err)
	}
	return &series, true, nil
}

// Save merges series into the store. Points at an existing timestamp are
// replaced by the newer import.
func (s *Store) Save(series []contracts.RawSeries) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range series {
		merged := in
		existing, ok, err := s.Load(in.Metric)
		if err != nil {
			return err
		}
		if ok {
			if existing.Unit != in.Unit || existing.Resolution != in.Resolution {
				return fmt.Errorf("imported %s: unit/resolution %s/%s conflicts with stored %s/%s",
					in.Metric, in.Unit, in.Resolution, existing.Unit, existing.Resolution)
			}
			merged = mergeSeries(*existing, in)
		}

		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode imported %s: %w", in.Metric, err)
		}
		if err := fileutil.WriteFileAtomic(s.path(in.Metric), data); err != nil {
			return err
		}
		s.logger.WithFields(map[string]interface{}{
			"metric": in.Metric,
			"points": len(merged.Points),
			"range":  merged.Range().String(),
		}).Info("Stored imported series")
	}
	return nil
}

// Fetch returns stored series clipped to the request. Metrics never
// imported are left out and reported by the aligner.
func (s *Store) Fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.RawSeries, error) {
	if !req.Start.Before(req.End) {
		return nil, fmt.Errorf("invalid range %s", contracts.TimeRange{Start: req.Start, End: req.End})
	}
	metrics := append([]contracts.Metric(nil), req.Metrics...)
	sort.Slice(metrics, func(a, b int) bool { return metrics[a] < metrics[b] })

	var out []contracts.RawSeries
	for _, m := range metrics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stored, ok, err := s.Load(m)
		if err != nil {
			return nil, &contracts.FetchError{Metric: m, Range: contracts.TimeRange{Start: req.Start, End: req.End}, URL: s.path(m), Attempts: 1, Err: err}
		}
		if !ok {
			s.logger.WithField("metric", m).Warn("Metric was never imported")
			continue
		}
		out = append(out, clip(*stored, req.Start, req.End))
	}
	return out, nil
}

func mergeSeries(a, b contracts.RawSeries) contracts.RawSeries {
	byTime := make(map[int64]contracts.Point, len(a.Points)+len(b.Points))
	for _, p := range a.Points {
		byTime[p.Timestamp.Unix()] = p
	}
	for _, p := range b.Points {
		byTime[p.Timestamp.Unix()] = p
	}
	out := a
	out.Points = make([]contracts.Point, 0, len(byTime))
	for _, p := range byTime {
		out.Points = append(out.Points, p)
	}
	sort.Slice(out.Points, func(i, j int) bool { return out.Points[i].Timestamp.Before(out.Points[j].Timestamp) })
	if b.Start.Before(out.Start) {
		out.Start = b.Start
	}
	if b.End.After(out.End) {
		out.End = b.End
	}
	return out
}

func clip(s contracts.RawSeries, start, end time.Time) contracts.RawSeries {
	out := s
	out.Start, out.End = start, end
	out.Points = nil
	for _, p := range s.Points {
		if !p.Timestamp.Before(start) && p.Timestamp.Before(end) {
			out.Points = append(out.Points, p)
		}
	}
	return out
}
