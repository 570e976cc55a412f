package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON body of /metrics/summary.
type Summary struct {
	HTTP      httpSummary     `json:"http"`
	ToolCalls toolCallSummary `json:"toolCalls"`
	Payments  paymentSummary  `json:"payments"`
	Upstream  upstreamSummary `json:"upstream"`
	RateLimit rateLimitInfo   `json:"rateLimit"`
	DB        dbInfo          `json:"db"`
	Server    serverInfo      `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type toolCallSummary struct {
	Total           float64 `json:"total"`
	Succeeded       float64 `json:"succeeded"`
	PaymentRequired float64 `json:"paymentRequired"`
}

type paymentSummary struct {
	Verified       float64 `json:"verified"`
	Settled        float64 `json:"settled"`
	Rejected       float64 `json:"rejected"`
	Errors         float64 `json:"errors"`
	P50Facilitator float64 `json:"p50Facilitator"`
	P95Facilitator float64 `json:"p95Facilitator"`
}

type upstreamSummary struct {
	Sessions float64 `json:"sessions"`
	Errors   float64 `json:"errors"`
	P50      float64 `json:"p50"`
	P95      float64 `json:"p95"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	OpenConns  float64 `json:"openConns"`
	IdleConns  float64 `json:"idleConns"`
	InUseConns float64 `json:"inUseConns"`
}

// SummaryHandler serves a JSON digest of the live registry.
func (m *Metrics) SummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	payments := fam["paygate_payments_total"]
	start := gaugeValue(fam["paygate_server_start_time_seconds"])

	return &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["paygate_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["paygate_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["paygate_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["paygate_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["paygate_http_request_duration_seconds"], 0.99),
		},
		ToolCalls: toolCallSummary{
			Total:           sumCounter(fam["paygate_tool_calls_total"]),
			Succeeded:       counterWithLabels(fam["paygate_tool_calls_total"], map[string]string{"outcome": "ok"}),
			PaymentRequired: counterWithLabels(fam["paygate_tool_calls_total"], map[string]string{"outcome": "payment_required"}),
		},
		Payments: paymentSummary{
			Verified:       counterWithLabels(payments, map[string]string{"stage": "verify", "result": "ok"}),
			Settled:        counterWithLabels(payments, map[string]string{"stage": "settle", "result": "ok"}),
			Rejected:       counterWithLabels(payments, map[string]string{"result": "rejected"}),
			Errors:         counterWithLabels(payments, map[string]string{"result": "error"}),
			P50Facilitator: histogramPercentile(fam["paygate_facilitator_duration_seconds"], 0.50),
			P95Facilitator: histogramPercentile(fam["paygate_facilitator_duration_seconds"], 0.95),
		},
		Upstream: upstreamSummary{
			Sessions: gaugeValue(fam["paygate_upstream_sessions"]),
			Errors:   sumCounter(fam["paygate_upstream_errors_total"]),
			P50:      histogramPercentile(fam["paygate_upstream_duration_seconds"], 0.50),
			P95:      histogramPercentile(fam["paygate_upstream_duration_seconds"], 0.95),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["paygate_ratelimit_rejections_total"]),
		},
		DB: dbInfo{
			OpenConns:  gaugeValue(fam["paygate_db_open_conns"]),
			IdleConns:  gaugeValue(fam["paygate_db_idle_conns"]),
			InUseConns: gaugeValue(fam["paygate_db_in_use_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

// counterWithLabels sums the series whose labels include every pair in want.
func counterWithLabels(f *dto.MetricFamily, want map[string]string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		matched := 0
		for _, lp := range m.GetLabel() {
			if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
				matched++
			}
		}
		if matched == len(want) {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// computeErrorRate is the share of requests answered with a 5xx status.
func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, failed float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" && len(lp.GetValue()) > 0 && lp.GetValue()[0] == '5' {
				failed += v
			}
		}
	}
	if total == 0 {
		return 0
	}
	return failed / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	// Aggregate all histogram metrics in the family.
	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			// Linear interpolation within this bucket.
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// If we didn't find it, return the last finite bucket upper bound.
	if len(buckets) > 0 {
		for i := len(buckets) - 1; i >= 0; i-- {
			if !math.IsInf(buckets[i].upperBound, 1) {
				return buckets[i].upperBound
			}
		}
	}
	return 0
}
