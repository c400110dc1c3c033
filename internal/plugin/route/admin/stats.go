package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/gin-gonic/gin"
)

// PromQL behind the operational time-series endpoints.
const (
	requestRateQuery       = `sum(rate(temporal_memory_requests_total[5m]))`
	errorRateQuery         = `sum(rate(temporal_memory_requests_total{status=~"5.."}[5m])) / sum(rate(temporal_memory_requests_total[5m])) * 100`
	latencyP95Query        = `histogram_quantile(0.95, sum(rate(temporal_memory_request_duration_seconds_bucket[5m])) by (le))`
	retrievalP95Query      = `histogram_quantile(0.95, sum(rate(temporal_memory_retrieval_duration_seconds_bucket[5m])) by (le))`
	decayDeletionsQuery    = `sum(rate(temporal_memory_decay_deleted_total[5m])) by (reason)`
	rehearsalRateQuery     = `sum(rate(temporal_memory_rehearsals_total[5m]))`
	vectorFallbacksQuery   = `sum(rate(temporal_memory_vector_fallbacks_total[5m]))`
	cacheHitRateQuery      = `sum(rate(temporal_memory_cache_hits_total[5m])) / (sum(rate(temporal_memory_cache_hits_total[5m])) + sum(rate(temporal_memory_cache_misses_total[5m]))) * 100`
	storeLatencyP95Query   = `histogram_quantile(0.95, sum(rate(temporal_memory_store_latency_seconds_bucket[5m])) by (le, operation))`
	dbPoolUtilizationQuery = `sum(temporal_memory_db_pool_open_connections) / sum(temporal_memory_db_pool_max_connections) * 100`
)

var errPrometheusNotConfigured = errors.New("prometheus not configured")

type promProxy struct {
	baseURL string
	client  *http.Client
}

func mountPrometheusRoutes(g *gin.RouterGroup, cfg *config.Config) {
	p := &promProxy{
		baseURL: strings.TrimSpace(cfg.PrometheusURL),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	g.GET("/request-rate", p.rangeHandler(requestRateQuery, "request_rate", "req/s"))
	g.GET("/error-rate", p.rangeHandler(errorRateQuery, "error_rate", "%"))
	g.GET("/latency-p95", p.rangeHandler(latencyP95Query, "latency_p95", "s"))
	g.GET("/retrieval-latency-p95", p.rangeHandler(retrievalP95Query, "retrieval_latency_p95", "s"))
	g.GET("/decay-deletions", p.multiSeriesHandler(decayDeletionsQuery, "decay_deletions", "items/s", "reason"))
	g.GET("/rehearsal-rate", p.rangeHandler(rehearsalRateQuery, "rehearsal_rate", "items/s"))
	g.GET("/vector-fallbacks", p.rangeHandler(vectorFallbacksQuery, "vector_fallbacks", "req/s"))
	g.GET("/cache-hit-rate", p.rangeHandler(cacheHitRateQuery, "cache_hit_rate", "%"))
	g.GET("/store-latency-p95", p.multiSeriesHandler(storeLatencyP95Query, "store_latency_p95", "s", "operation"))
	g.GET("/db-pool-utilization", p.rangeHandler(dbPoolUtilizationQuery, "db_pool_utilization", "%"))
}

type seriesPoint struct {
	Timestamp string   `json:"timestamp"`
	Value     *float64 `json:"value"`
}

type seriesResponse struct {
	Metric string        `json:"metric"`
	Unit   string        `json:"unit"`
	Data   []seriesPoint `json:"data"`
}

type labeledSeries struct {
	Label string        `json:"label"`
	Data  []seriesPoint `json:"data"`
}

type multiSeriesResponse struct {
	Metric string          `json:"metric"`
	Unit   string          `json:"unit"`
	Series []labeledSeries `json:"series"`
}

type promRangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []struct {
			Metric map[string]string `json:"metric"`
			Values [][]any           `json:"values"`
		} `json:"result"`
	} `json:"data"`
	Error string `json:"error"`
}

func (p *promProxy) rangeHandler(promQL, metric, unit string) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := p.queryRange(c, promQL)
		if err != nil {
			p.writeError(c, err)
			return
		}
		out := seriesResponse{Metric: metric, Unit: unit, Data: []seriesPoint{}}
		if len(resp.Data.Result) > 0 {
			out.Data = points(resp.Data.Result[0].Values)
		}
		c.JSON(http.StatusOK, out)
	}
}

func (p *promProxy) multiSeriesHandler(promQL, metric, unit, labelKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := p.queryRange(c, promQL)
		if err != nil {
			p.writeError(c, err)
			return
		}
		out := multiSeriesResponse{Metric: metric, Unit: unit, Series: []labeledSeries{}}
		for _, result := range resp.Data.Result {
			label := result.Metric[labelKey]
			if label == "" {
				label = "unknown"
			}
			out.Series = append(out.Series, labeledSeries{Label: label, Data: points(result.Values)})
		}
		c.JSON(http.StatusOK, out)
	}
}

func (p *promProxy) queryRange(c *gin.Context, promQL string) (*promRangeResponse, error) {
	if p.baseURL == "" {
		return nil, errPrometheusNotConfigured
	}
	now := time.Now().UTC()
	start := c.DefaultQuery("start", now.Add(-time.Hour).Format(time.RFC3339))
	end := c.DefaultQuery("end", now.Format(time.RFC3339))
	step := c.DefaultQuery("step", "60s")
	return p.doQueryRange(c.Request.Context(), promQL, start, end, step)
}

func (p *promProxy) doQueryRange(ctx context.Context, promQL, start, end, step string) (*promRangeResponse, error) {
	endpoint, err := url.Parse(strings.TrimRight(p.baseURL, "/") + "/api/v1/query_range")
	if err != nil {
		return nil, fmt.Errorf("invalid Prometheus URL: %w", err)
	}
	values := endpoint.Query()
	values.Set("query", promQL)
	values.Set("start", start)
	values.Set("end", end)
	values.Set("step", step)
	endpoint.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not connect to Prometheus server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("prometheus query failed with status %d", resp.StatusCode)
	}
	var payload promRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode Prometheus response: %w", err)
	}
	if !strings.EqualFold(payload.Status, "success") {
		msg := strings.TrimSpace(payload.Error)
		if msg == "" {
			msg = "prometheus query failed"
		}
		return nil, errors.New(msg)
	}
	return &payload, nil
}

func (p *promProxy) writeError(c *gin.Context, err error) {
	if errors.Is(err, errPrometheusNotConfigured) {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "prometheus_not_configured",
			"message": "Set --prometheus-url to enable operational stats.",
		})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prometheus_unavailable", "message": err.Error()})
}

func points(values [][]any) []seriesPoint {
	out := make([]seriesPoint, 0, len(values))
	for _, raw := range values {
		if len(raw) < 2 {
			continue
		}
		ts, ok := promTimestamp(raw[0])
		if !ok {
			continue
		}
		out = append(out, seriesPoint{
			Timestamp: ts.UTC().Format(time.RFC3339),
			Value:     promValue(raw[1]),
		})
	}
	return out
}

func promTimestamp(v any) (time.Time, bool) {
	var seconds float64
	switch value := v.(type) {
	case float64:
		seconds = value
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return time.Time{}, false
		}
		seconds = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return time.Time{}, false
		}
		seconds = f
	default:
		return time.Time{}, false
	}
	sec, frac := math.Modf(seconds)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), true
}

// promValue maps NaN and infinities to null so JSON encoding never fails.
func promValue(v any) *float64 {
	var f float64
	switch value := v.(type) {
	case float64:
		f = value
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
