package model

import "time"

// Delivery log statuses. "sent" means every device send reported success;
// anything less is a partial failure, including zero successes.
const (
	StatusSent           = "sent"
	StatusPartialFailure = "partial_failure"
)

// DeliveryLog is the append-only record written once per dispatch that
// reaches the send stage. It captures coarse status only; per-device detail
// lives in the HTTP response, not here.
type DeliveryLog struct {
	ID               uint64    `json:"id"`
	UserID           string    `json:"userId"`
	NotificationType string    `json:"notificationType"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

// DeliveryLogFilter describes query parameters for log searching.
type DeliveryLogFilter struct {
	UserID    string
	Type      string
	Status    string
	BeginTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// DeliveryLogPage is the paginated payload consumed by the dev console.
type DeliveryLogPage struct {
	Data     []*DeliveryLog `json:"data"`
	Total    int            `json:"total"`
	Pages    int            `json:"pages"`
	PageNum  int            `json:"pageNum"`
	PageSize int            `json:"pageSize"`
}
