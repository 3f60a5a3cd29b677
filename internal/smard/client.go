package smard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/config"
	"github.com/wonny/meritorder/pkg/httputil"
	"github.com/wonny/meritorder/pkg/logger"
)

// ChunkLength is the span of one SMARD chart_data file
const ChunkLength = 7 * 24 * time.Hour

// Client handles communication with the SMARD chart_data API
// ⭐ SSOT: SMARD API 호출은 이 클라이언트에서만
type Client struct {
	httpClient  *httputil.Client
	logger      *logger.Logger
	baseURL     string
	region      string
	priceRegion string
	resolution  contracts.Resolution
}

// NewClient creates a new SMARD client
func NewClient(httpClient *httputil.Client, log *logger.Logger, cfg config.SMARDConfig) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      log.WithComponent("smard"),
		baseURL:     cfg.BaseURL,
		region:      cfg.Region,
		priceRegion: cfg.PriceRegion,
		resolution:  contracts.Resolution(cfg.Resolution),
	}
}

// Resolution returns the configured resolution
func (c *Client) Resolution() contracts.Resolution {
	return c.resolution
}

// RegionFor returns the region a metric is published for.
// Prices exist only for the bidding zone.
func (c *Client) RegionFor(m contracts.Metric) string {
	if m == contracts.MetricPrice {
		return c.priceRegion
	}
	return c.region
}

// Chunk is one weekly chart_data file
type Chunk struct {
	Metric     contracts.Metric     `json:"metric"`
	Region     string               `json:"region"`
	Resolution contracts.Resolution `json:"resolution"`
	Start      time.Time            `json:"start"`
	Points     []contracts.Point    `json:"points"`
	// Skipped counts malformed rows dropped while parsing
	Skipped int `json:"skipped,omitempty"`
}

type indexResponse struct {
	Timestamps []int64 `json:"timestamps"`
}

type seriesResponse struct {
	Series []json.RawMessage `json:"series"`
}

// Index lists the chunk start timestamps available for a metric, ascending
func (c *Client) Index(ctx context.Context, m contracts.Metric) ([]time.Time, error) {
	url, err := c.indexURL(m)
	if err != nil {
		return nil, err
	}

	var resp indexResponse
	if err := c.httpClient.GetJSON(ctx, url, &resp); err != nil {
		return nil, fmt.Errorf("smard index %s: %w", m, err)
	}

	starts := make([]time.Time, 0, len(resp.Timestamps))
	for _, ms := range resp.Timestamps {
		starts = append(starts, time.UnixMilli(ms).UTC())
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	c.logger.WithFields(map[string]interface{}{
		"metric": m,
		"chunks": len(starts),
	}).Debug("Fetched SMARD index")

	return starts, nil
}

// Chunk fetches the chart_data file starting at start
func (c *Client) Chunk(ctx context.Context, m contracts.Metric, start time.Time) (*Chunk, error) {
	url, err := c.chunkURL(m, start)
	if err != nil {
		return nil, err
	}

	var resp seriesResponse
	if err := c.httpClient.GetJSON(ctx, url, &resp); err != nil {
		return nil, fmt.Errorf("smard chunk %s@%d: %w", m, start.UnixMilli(), err)
	}

	points, skipped := parseSeries(resp.Series)
	if skipped > 0 {
		c.logger.WithFields(map[string]interface{}{
			"metric":  m,
			"start":   start,
			"skipped": skipped,
		}).Warn("Skipped malformed SMARD rows")
	}

	return &Chunk{
		Metric:     m,
		Region:     c.RegionFor(m),
		Resolution: c.resolution,
		Start:      start.UTC(),
		Points:     points,
		Skipped:    skipped,
	}, nil
}

func (c *Client) indexURL(m contracts.Metric) (string, error) {
	id, ok := FilterID(m)
	if !ok {
		return "", fmt.Errorf("no SMARD filter for metric %q", m)
	}
	return fmt.Sprintf("%s/%d/%s/index_%s.json", c.baseURL, id, c.RegionFor(m), c.resolution), nil
}

func (c *Client) chunkURL(m contracts.Metric, start time.Time) (string, error) {
	id, ok := FilterID(m)
	if !ok {
		return "", fmt.Errorf("no SMARD filter for metric %q", m)
	}
	region := c.RegionFor(m)
	return fmt.Sprintf("%s/%d/%s/%d_%s_%s_%d.json",
		c.baseURL, id, region, id, region, c.resolution, start.UnixMilli()), nil
}

// parseSeries converts [[ms, value|null], ...] rows into points.
// Rows that are not a [number, number|null] pair are skipped, extra
// elements are ignored. Output is sorted by timestamp.
func parseSeries(rows []json.RawMessage) ([]contracts.Point, int) {
	points := make([]contracts.Point, 0, len(rows))
	skipped := 0

	for _, raw := range rows {
		var cells []json.RawMessage
		if err := json.Unmarshal(raw, &cells); err != nil || len(cells) < 2 {
			skipped++
			continue
		}

		var ms *float64
		if err := json.Unmarshal(cells[0], &ms); err != nil || ms == nil {
			skipped++
			continue
		}

		var value *float64
		if err := json.Unmarshal(cells[1], &value); err != nil {
			// 문자열 등 예상 밖 타입은 결측으로 처리
			value = nil
		}

		points = append(points, contracts.Point{
			Timestamp: time.UnixMilli(int64(*ms)).UTC(),
			Value:     value,
		})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	return points, skipped
}
