package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/SwitchGaming/ten-push-gateway/internal/model"
	"github.com/SwitchGaming/ten-push-gateway/internal/storage"
)

// DeliveryLogService provides filtering and statistics over the dispatch log
// for the dev console.
type DeliveryLogService struct {
	store storage.Store
}

// NewDeliveryLogService builds the delivery log service.
func NewDeliveryLogService(store storage.Store) *DeliveryLogService {
	return &DeliveryLogService{store: store}
}

// Query returns paginated logs, newest first.
func (s *DeliveryLogService) Query(ctx context.Context, filter model.DeliveryLogFilter) (*model.DeliveryLogPage, error) {
	logs, err := s.filteredLogs(ctx, filter)
	if err != nil {
		return nil, err
	}

	total := len(logs)
	if filter.PageSize <= 0 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	pages := (total + filter.PageSize - 1) / filter.PageSize

	return &model.DeliveryLogPage{
		Data:     logs[start:end],
		Total:    total,
		Pages:    pages,
		PageNum:  filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// CountByDate aggregates dispatches per day/month/year.
func (s *DeliveryLogService) CountByDate(ctx context.Context, dateType string, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DeliveryLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}

	layout := "2006-01-02"
	switch strings.ToLower(dateType) {
	case "year":
		layout = "2006"
	case "month":
		layout = "2006-01"
	}

	counter := make(map[string]int)
	for _, log := range logs {
		counter[log.CreatedAt.Format(layout)]++
	}
	return mapToKV(counter, "date"), nil
}

// CountByStatus aggregates by delivery status.
func (s *DeliveryLogService) CountByStatus(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DeliveryLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, log := range logs {
		status := log.Status
		if status == "" {
			status = "unknown"
		}
		counter[status]++
	}
	return mapToKV(counter, "status"), nil
}

// CountByType aggregates by notification type.
func (s *DeliveryLogService) CountByType(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DeliveryLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, log := range logs {
		typ := strings.TrimSpace(log.NotificationType)
		if typ == "" {
			typ = "unknown"
		}
		counter[typ]++
	}
	return mapToKV(counter, "type"), nil
}

func (s *DeliveryLogService) filteredLogs(ctx context.Context, filter model.DeliveryLogFilter) ([]*model.DeliveryLog, error) {
	all, err := s.store.ListDeliveryLogs(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]*model.DeliveryLog, 0, len(all))
	for _, log := range all {
		if filter.UserID != "" && log.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && !strings.EqualFold(log.NotificationType, filter.Type) {
			continue
		}
		if filter.Status != "" && !strings.EqualFold(log.Status, filter.Status) {
			continue
		}
		if filter.BeginTime != nil && log.CreatedAt.Before(filter.BeginTime.UTC()) {
			continue
		}
		if filter.EndTime != nil && log.CreatedAt.After(filter.EndTime.UTC()) {
			continue
		}
		matches = append(matches, log)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches, nil
}

func mapToKV(counter map[string]int, key string) []map[string]any {
	var result []map[string]any
	for k, v := range counter {
		result = append(result, map[string]any{
			key:     k,
			"count": v,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i][key].(string) < result[j][key].(string)
	})
	return result
}
