package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SwitchGaming/ten-push-gateway/internal/apns"
	"github.com/SwitchGaming/ten-push-gateway/internal/config"
	"github.com/SwitchGaming/ten-push-gateway/internal/model"
	"github.com/SwitchGaming/ten-push-gateway/internal/storage"
)

// ErrTokenLookup marks a failed read of the device-token store. Distinguished
// from ErrNoDeviceTokens because the caller reports them differently.
var ErrTokenLookup = errors.New("failed to fetch device tokens")

// ErrNoDeviceTokens means the user has nothing registered; the dispatch is a
// deliberate no-op, not a failure.
var ErrNoDeviceTokens = errors.New("no device tokens found")

// DispatchService runs one push dispatch end to end: token lookup, preference
// gating, provider token mint, concurrent fan-out, aggregation, delivery log.
type DispatchService struct {
	store storage.Store
	apns  *apns.Client
	cfg   *config.Config
	now   func() time.Time
}

// NewDispatchService constructs DispatchService.
func NewDispatchService(store storage.Store, client *apns.Client, cfg *config.Config) *DispatchService {
	return &DispatchService{
		store: store,
		apns:  client,
		cfg:   cfg,
		now:   time.Now,
	}
}

// SetClock overrides the wall clock, for quiet-hours tests.
func (s *DispatchService) SetClock(now func() time.Time) {
	s.now = now
}

// Dispatch resolves tokens and preferences for the request's user, applies the
// opt-in and quiet-hours policy, then fans the payload out to every device.
// A policy skip is reported in the outcome, not as an error. Exactly one
// delivery-log row is written when the send stage is reached, regardless of
// how many devices succeeded.
func (s *DispatchService) Dispatch(ctx context.Context, req model.DispatchRequest) (*model.DispatchOutcome, error) {
	tokens, err := s.store.ListDeviceTokens(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenLookup, err)
	}
	if len(tokens) == 0 {
		return nil, ErrNoDeviceTokens
	}

	prefs, err := s.store.GetPreferences(ctx, req.UserID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}
	// A missing preferences row means no restrictions at all.
	if prefs != nil {
		if disabledByPreference(req.Type, prefs) {
			return &model.DispatchOutcome{Skipped: model.SkipDisabled}, nil
		}
		if prefs.QuietHoursStart != "" && prefs.QuietHoursEnd != "" {
			current := s.now().Format("15:04")
			if inQuietHours(current, prefs.QuietHoursStart, prefs.QuietHoursEnd) {
				return &model.DispatchOutcome{Skipped: model.SkipQuietHours}, nil
			}
		}
	}

	bearer, err := apns.MintProviderToken(s.cfg.APNs.PrivateKey, s.cfg.APNs.KeyID, s.cfg.APNs.TeamID, s.now())
	if err != nil {
		return nil, err
	}
	payload, err := apns.BuildPayload(req.Title, req.Body, req.Type, req.Data)
	if err != nil {
		return nil, err
	}

	results := s.fanOut(ctx, tokens, bearer, payload)

	success := true
	for _, r := range results {
		if !r.OK {
			success = false
			break
		}
	}
	status := model.StatusSent
	if !success {
		status = model.StatusPartialFailure
	}
	s.appendLog(ctx, req, status)

	return &model.DispatchOutcome{
		Success: success,
		Results: results,
	}, nil
}

// fanOut sends one push per token concurrently and waits for all of them to
// settle. Each goroutine owns its result slot, so results come back in token
// order and a failing device never disturbs its siblings.
func (s *DispatchService) fanOut(ctx context.Context, tokens []*model.DeviceToken, bearer string, payload []byte) []model.PushResult {
	results := make([]model.PushResult, len(tokens))
	var wg sync.WaitGroup
	wg.Add(len(tokens))
	for i, token := range tokens {
		i, token := i, token
		go func() {
			defer wg.Done()
			resp, err := s.apns.Send(ctx, token.Token, bearer, payload)
			if err != nil {
				results[i] = model.PushResult{Error: err.Error()}
				return
			}
			results[i] = model.PushResult{
				Status:   resp.StatusCode,
				OK:       resp.OK(),
				Response: resp.Body,
			}
		}()
	}
	wg.Wait()
	return results
}

func (s *DispatchService) appendLog(ctx context.Context, req model.DispatchRequest, status string) {
	entry := &model.DeliveryLog{
		UserID:           req.UserID,
		NotificationType: req.Type,
		Title:            req.Title,
		Body:             req.Body,
		Status:           status,
	}
	if err := s.store.AppendDeliveryLog(ctx, entry); err != nil {
		log.Printf("append delivery log failed: %v", err)
	}
}

// disabledByPreference gates only the three known notification types. Any
// other type value is always sent; new types stay default-allow until product
// gives them a flag.
func disabledByPreference(notificationType string, prefs *model.NotificationPreferences) bool {
	switch notificationType {
	case model.TypeVibe:
		return !prefs.VibesEnabled
	case model.TypeFriendRequest:
		return !prefs.FriendRequestsEnabled
	case model.TypeReply:
		return !prefs.RepliesEnabled
	default:
		return false
	}
}

// inQuietHours tests "HH:MM" membership in the suppressed window. A window
// with start <= end covers [start, end) within one day; start > end wraps
// midnight, suppressing current >= start or current < end. Malformed times
// never suppress.
func inQuietHours(current, start, end string) bool {
	cur, ok := parseClock(current)
	if !ok {
		return false
	}
	from, ok := parseClock(start)
	if !ok {
		return false
	}
	to, ok := parseClock(end)
	if !ok {
		return false
	}
	if from <= to {
		return cur >= from && cur < to
	}
	return cur >= from || cur < to
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(value string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}
	return hours*60 + minutes, true
}
