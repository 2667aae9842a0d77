package model

// DispatchRequest is the JSON body accepted by the push send endpoint.
type DispatchRequest struct {
	Type   string         `json:"type"`
	UserID string         `json:"userId"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data"`
}

// PushResult is the settled outcome of one per-device send. Exactly one of
// Response or Error is populated.
type PushResult struct {
	Status   int    `json:"status"`
	OK       bool   `json:"ok"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Skip reasons returned when a dispatch is suppressed by policy.
const (
	SkipDisabled   = "disabled"
	SkipQuietHours = "quiet_hours"
)

// DispatchOutcome summarises one dispatcher invocation. Skipped is empty when
// the send stage was reached; Results then carries one entry per device token
// in registration order.
type DispatchOutcome struct {
	Skipped string       `json:"skipped,omitempty"`
	Success bool         `json:"success"`
	Results []PushResult `json:"results,omitempty"`
}
