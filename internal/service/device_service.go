package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/SwitchGaming/ten-push-gateway/internal/model"
	"github.com/SwitchGaming/ten-push-gateway/internal/storage"
)

// DeviceService owns the token and preference registry the dispatcher reads
// from. The mobile app writes here on launch and from the settings screen.
type DeviceService struct {
	store storage.Store
}

// RegisterRequest describes a token registration payload.
type RegisterRequest struct {
	UserID     string `json:"userId"`
	Token      string `json:"token"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
}

// PreferencesRequest describes a preferences upsert payload.
type PreferencesRequest struct {
	VibesEnabled          bool   `json:"vibesEnabled"`
	FriendRequestsEnabled bool   `json:"friendRequestsEnabled"`
	RepliesEnabled        bool   `json:"repliesEnabled"`
	QuietHoursStart       string `json:"quietHoursStart"`
	QuietHoursEnd         string `json:"quietHoursEnd"`
}

// NewDeviceService constructs DeviceService.
func NewDeviceService(store storage.Store) *DeviceService {
	return &DeviceService{store: store}
}

// Register upserts a device token. Registering an existing token under a new
// user re-homes it, which is what happens when someone logs into a different
// account on the same handset.
func (s *DeviceService) Register(ctx context.Context, req RegisterRequest) (*model.DeviceToken, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(req.Token) == "" {
		return nil, fmt.Errorf("token is required")
	}
	token := &model.DeviceToken{
		UserID:     req.UserID,
		Token:      req.Token,
		DeviceName: req.DeviceName,
		Platform:   req.Platform,
	}
	if err := s.store.UpsertDeviceToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// ListForUser returns a user's registered tokens.
func (s *DeviceService) ListForUser(ctx context.Context, userID string) ([]*model.DeviceToken, error) {
	return s.store.ListDeviceTokens(ctx, userID)
}

// ListViews returns masked tokens for the console.
func (s *DeviceService) ListViews(ctx context.Context) ([]*model.DeviceTokenView, error) {
	tokens, err := s.store.ListAllDeviceTokens(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*model.DeviceTokenView, 0, len(tokens))
	for _, token := range tokens {
		views = append(views, &model.DeviceTokenView{
			UserID:     token.UserID,
			Token:      maskValue(token.Token),
			DeviceName: token.DeviceName,
			Platform:   token.Platform,
		})
	}
	return views, nil
}

// Delete removes a token. This is the manual pruning path for tokens APNs has
// started rejecting; the dispatcher itself never prunes.
func (s *DeviceService) Delete(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token is required")
	}
	return s.store.DeleteDeviceToken(ctx, token)
}

// SavePreferences upserts a user's preferences row.
func (s *DeviceService) SavePreferences(ctx context.Context, userID string, req PreferencesRequest) (*model.NotificationPreferences, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("userId is required")
	}
	start := strings.TrimSpace(req.QuietHoursStart)
	end := strings.TrimSpace(req.QuietHoursEnd)
	if (start == "") != (end == "") {
		return nil, fmt.Errorf("quiet hours require both start and end")
	}
	if start != "" {
		if _, ok := parseClock(start); !ok {
			return nil, fmt.Errorf("quietHoursStart must be HH:MM")
		}
		if _, ok := parseClock(end); !ok {
			return nil, fmt.Errorf("quietHoursEnd must be HH:MM")
		}
	}
	prefs := &model.NotificationPreferences{
		UserID:                userID,
		VibesEnabled:          req.VibesEnabled,
		FriendRequestsEnabled: req.FriendRequestsEnabled,
		RepliesEnabled:        req.RepliesEnabled,
		QuietHoursStart:       start,
		QuietHoursEnd:         end,
	}
	if err := s.store.UpsertPreferences(ctx, prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// GetPreferences returns a user's preferences row, or storage.ErrNotFound.
func (s *DeviceService) GetPreferences(ctx context.Context, userID string) (*model.NotificationPreferences, error) {
	return s.store.GetPreferences(ctx, userID)
}

func maskValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	if len(runes) <= 4 {
		return value
	}
	masked := make([]rune, len(runes)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(runes[:4]) + string(masked)
}
