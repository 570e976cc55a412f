package metering

import "time"

// Event is one tools/call handled by the proxy. Settlement receipts are not
// part of it; only the network and amount a paid call was charged.
type Event struct {
	TenantID  string    `json:"tenant_id"`
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
	// Outcome is "ok" or the x402 error kind the call ended with.
	Outcome   string `json:"outcome"`
	Paid      bool   `json:"paid"`
	Network   string `json:"network,omitempty"`
	Amount    string `json:"amount,omitempty"` // smallest units
	LatencyMs int64  `json:"latency_ms"`
}

// OutcomeOK marks a call that returned a result without a pipeline error.
const OutcomeOK = "ok"

// UsageSummary aggregates the events matching a UsageQuery.
type UsageSummary struct {
	TotalCalls   int64   `json:"total_calls"`
	PaidCalls    int64   `json:"paid_calls"`
	ErrorCount   int64   `json:"error_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	// AmountByNetwork is the settled total per network in smallest units.
	AmountByNetwork map[string]string `json:"amount_by_network"`
}

// UsageQuery filters events. Zero fields do not filter.
type UsageQuery struct {
	TenantID string    `json:"tenant_id,omitempty"`
	Tool     string    `json:"tool,omitempty"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}
