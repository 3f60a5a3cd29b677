package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/smard"
	"github.com/wonny/meritorder/pkg/httputil"
	"github.com/wonny/meritorder/pkg/logger"
	"github.com/wonny/meritorder/pkg/metrics"
)

// Source is the upstream chunked API (SMARD)
type Source interface {
	Index(ctx context.Context, m contracts.Metric) ([]time.Time, error)
	Chunk(ctx context.Context, m contracts.Metric, start time.Time) (*smard.Chunk, error)
	RegionFor(m contracts.Metric) string
	Resolution() contracts.Resolution
}

// ErrNotCached is returned in offline mode for chunks missing from the cache
var ErrNotCached = errors.New("not in cache (run fetch first)")

// Options holds fetcher configuration
type Options struct {
	Workers    int  // Number of concurrent chunk requests
	MaxRetries int  // Retries configured on the HTTP client, for error reports
	Offline    bool // Serve only from cache
	// SettleAfter is how long after its end a chunk with a null tail is
	// still re-downloaded. SMARD publishes with a lag.
	SettleAfter time.Duration
}

// Fetcher retrieves raw series chunk by chunk through the file cache
// ⭐ SSOT: FETCHING 단계는 이 패키지에서만
type Fetcher struct {
	source  Source
	cache   *Cache
	metrics *metrics.Recorder
	logger  *logger.Logger
	opts    Options
	now     func() time.Time
}

// New creates a new Fetcher
func New(source Source, cache *Cache, rec *metrics.Recorder, log *logger.Logger, opts Options) *Fetcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Fetcher{
		source:  source,
		cache:   cache,
		metrics: rec,
		logger:  log.WithStage(string(contracts.StageFetching)),
		opts:    opts,
		now:     time.Now,
	}
}

// Stats summarizes one fetch
type Stats struct {
	Chunks      int
	CacheHits   int
	Downloaded  int
	Uncacheable int // chunks still growing upstream
	Points      int
}

// Result is the output of Run
type Result struct {
	Series []contracts.RawSeries
	Stats  Stats
}

type job struct {
	metric contracts.Metric
	key    ChunkKey
	end    time.Time
}

type jobResult struct {
	chunk  *smard.Chunk
	cached bool
	stored bool
}

// Fetch implements contracts.SeriesFetcher
func (f *Fetcher) Fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.RawSeries, error) {
	res, err := f.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Series, nil
}

// Run fetches every requested metric over [req.Start, req.End).
// Output is sorted by metric name, points by timestamp, independent of
// the order in which workers finish.
func (f *Fetcher) Run(ctx context.Context, req contracts.FetchRequest) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	window := contracts.TimeRange{Start: req.Start.UTC(), End: req.End.UTC()}

	metricsSorted := append([]contracts.Metric(nil), req.Metrics...)
	sort.Slice(metricsSorted, func(i, j int) bool { return metricsSorted[i] < metricsSorted[j] })

	// 1. Plan chunks from each metric's index
	var jobs []job
	for _, m := range metricsSorted {
		starts, err := f.index(ctx, m, window)
		if err != nil {
			f.metrics.RecordFetchError(string(m))
			return nil, &contracts.FetchError{
				Metric:   m,
				Range:    window,
				Attempts: f.attempts(err),
				Err:      err,
			}
		}
		for _, k := range planChunks(starts, window) {
			jobs = append(jobs, job{
				metric: m,
				key: ChunkKey{
					Metric:     m,
					Region:     f.source.RegionFor(m),
					Resolution: f.source.Resolution(),
					Start:      k.Start,
				},
				end: k.End,
			})
		}
	}

	f.logger.WithFields(map[string]interface{}{
		"metrics": len(metricsSorted),
		"chunks":  len(jobs),
		"window":  window.String(),
		"workers": f.opts.Workers,
		"offline": f.opts.Offline,
	}).Info("Starting fetch")

	// 2. Resolve chunks with a bounded pool; each result lands in its own slot
	results := make([]jobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)

	for i := range jobs {
		g.Go(func() error {
			r, err := f.resolve(gctx, jobs[i])
			if err != nil {
				f.metrics.RecordFetchError(string(jobs[i].metric))
				return &contracts.FetchError{
					Metric:   jobs[i].metric,
					Range:    contracts.TimeRange{Start: jobs[i].key.Start, End: jobs[i].end},
					Attempts: f.attempts(err),
					Err:      err,
				}
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 3. Merge deterministically
	out := &Result{}
	byMetric := make(map[contracts.Metric][]contracts.Point, len(metricsSorted))
	for i, j := range jobs {
		r := results[i]
		out.Stats.Chunks++
		switch {
		case r.cached:
			out.Stats.CacheHits++
		case r.stored:
			out.Stats.Downloaded++
		default:
			out.Stats.Downloaded++
			out.Stats.Uncacheable++
		}
		for _, p := range r.chunk.Points {
			if window.Contains(p.Timestamp) {
				byMetric[j.metric] = append(byMetric[j.metric], p)
			}
		}
	}

	for _, m := range metricsSorted {
		points := byMetric[m]
		sort.SliceStable(points, func(a, b int) bool {
			return points[a].Timestamp.Before(points[b].Timestamp)
		})
		out.Stats.Points += len(points)
		out.Series = append(out.Series, contracts.RawSeries{
			Metric:     m,
			Region:     f.source.RegionFor(m),
			Resolution: f.source.Resolution(),
			Unit:       smard.UnitFor(m),
			Start:      window.Start,
			End:        window.End,
			Points:     points,
		})
	}

	f.logger.WithFields(map[string]interface{}{
		"chunks":      out.Stats.Chunks,
		"cache_hits":  out.Stats.CacheHits,
		"downloaded":  out.Stats.Downloaded,
		"uncacheable": out.Stats.Uncacheable,
		"points":      out.Stats.Points,
	}).Info("Fetch completed")

	return out, nil
}

// index returns chunk starts for a metric. A cached index is reused when it
// was fetched after the window ended, since every chunk overlapping the
// window already existed then.
func (f *Fetcher) index(ctx context.Context, m contracts.Metric, window contracts.TimeRange) ([]time.Time, error) {
	region := f.source.RegionFor(m)
	res := f.source.Resolution()

	unlock := f.cache.Lock("index/" + region + "/" + string(res) + "/" + string(m))
	defer unlock()

	cached, fetchedAt, ok, err := f.cache.GetIndex(m, region, res)
	if err != nil {
		return nil, err
	}
	if ok && (f.opts.Offline || !fetchedAt.Before(window.End)) {
		return cached, nil
	}
	if f.opts.Offline {
		return nil, fmt.Errorf("index: %w", ErrNotCached)
	}

	starts, err := f.source.Index(ctx, m)
	if err != nil {
		return nil, err
	}
	if err := f.cache.PutIndex(m, region, res, starts, f.now()); err != nil {
		f.logger.WithError(err).WithField("metric", m).Warn("Failed to cache index")
	}
	return starts, nil
}

// resolve returns one chunk from cache or network. The per-key lock keeps
// two workers from downloading and writing the same entry.
func (f *Fetcher) resolve(ctx context.Context, j job) (jobResult, error) {
	unlock := f.cache.Lock(j.key.String())
	defer unlock()

	chunk, ok, err := f.cache.GetChunk(j.key)
	if err != nil {
		return jobResult{}, err
	}
	if ok {
		f.metrics.RecordChunk(string(j.metric), "cache")
		return jobResult{chunk: chunk, cached: true}, nil
	}
	if f.opts.Offline {
		return jobResult{}, ErrNotCached
	}

	chunk, err = f.source.Chunk(ctx, j.metric, j.key.Start)
	if err != nil {
		return jobResult{}, err
	}
	f.metrics.RecordChunk(string(j.metric), "network")

	// 아직 채워지는 중인 chunk는 캐시하지 않음
	if f.settled(j, chunk) {
		if err := f.cache.PutChunk(j.key, chunk); err != nil {
			return jobResult{}, fmt.Errorf("cache chunk %s: %w", j.key, err)
		}
		return jobResult{chunk: chunk, stored: true}, nil
	}
	return jobResult{chunk: chunk}, nil
}

// settled reports whether a downloaded chunk is final. A chunk whose last
// hours are still null may be filled in later, so it stays uncached until
// SettleAfter has passed since its end.
func (f *Fetcher) settled(j job, chunk *smard.Chunk) bool {
	now := f.now()
	if now.Before(j.end) {
		return false
	}
	if !now.Before(j.end.Add(f.opts.SettleAfter)) {
		return true
	}
	return !nullTail(chunk, j.end)
}

// nullTail reports whether the latest point before end is null, or the
// chunk has no points at all
func nullTail(chunk *smard.Chunk, end time.Time) bool {
	for i := len(chunk.Points) - 1; i >= 0; i-- {
		if chunk.Points[i].Timestamp.Before(end) {
			return chunk.Points[i].Value == nil
		}
	}
	return true
}

func (f *Fetcher) attempts(err error) int {
	if errors.Is(err, httputil.ErrRetriesExhausted) {
		return f.opts.MaxRetries + 1
	}
	return 1
}

// planChunks selects the chunks overlapping the window. Chunk i spans
// [starts[i], starts[i+1]); the last one spans one ChunkLength.
func planChunks(starts []time.Time, window contracts.TimeRange) []contracts.TimeRange {
	var out []contracts.TimeRange
	for i, s := range starts {
		end := s.Add(smard.ChunkLength)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if s.Before(window.End) && end.After(window.Start) {
			out = append(out, contracts.TimeRange{Start: s, End: end})
		}
	}
	return out
}

func validateRequest(req contracts.FetchRequest) error {
	if len(req.Metrics) == 0 {
		return errors.New("fetch: no metrics requested")
	}
	if !req.Start.Before(req.End) {
		return fmt.Errorf("fetch: start %s must be before end %s", req.Start, req.End)
	}
	seen := make(map[contracts.Metric]bool, len(req.Metrics))
	for _, m := range req.Metrics {
		if _, ok := smard.FilterID(m); !ok {
			return fmt.Errorf("fetch: unknown metric %q", m)
		}
		if seen[m] {
			return fmt.Errorf("fetch: metric %q requested twice", m)
		}
		seen[m] = true
	}
	return nil
}
