package storage

import (
	"context"

	"github.com/SwitchGaming/ten-push-gateway/internal/model"
)

// Store abstracts token, preference and delivery-log persistence.
type Store interface {
	UpsertDeviceToken(ctx context.Context, token *model.DeviceToken) error
	ListDeviceTokens(ctx context.Context, userID string) ([]*model.DeviceToken, error)
	ListAllDeviceTokens(ctx context.Context) ([]*model.DeviceToken, error)
	DeleteDeviceToken(ctx context.Context, token string) error

	GetPreferences(ctx context.Context, userID string) (*model.NotificationPreferences, error)
	UpsertPreferences(ctx context.Context, prefs *model.NotificationPreferences) error

	AppendDeliveryLog(ctx context.Context, log *model.DeliveryLog) error
	ListDeliveryLogs(ctx context.Context) ([]*model.DeliveryLog, error)

	Close() error
}
