package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SwitchGaming/ten-push-gateway/internal/apns"
	"github.com/SwitchGaming/ten-push-gateway/internal/config"
	"github.com/SwitchGaming/ten-push-gateway/internal/model"
	"github.com/SwitchGaming/ten-push-gateway/internal/storage"
)

// memStore is an in-memory Store for dispatcher tests.
type memStore struct {
	mu        sync.Mutex
	tokens    []*model.DeviceToken
	prefs     map[string]*model.NotificationPreferences
	logs      []*model.DeliveryLog
	tokensErr error
}

func newMemStore() *memStore {
	return &memStore{prefs: make(map[string]*model.NotificationPreferences)}
}

func (m *memStore) UpsertDeviceToken(_ context.Context, token *model.DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
	return nil
}

func (m *memStore) ListDeviceTokens(_ context.Context, userID string) ([]*model.DeviceToken, error) {
	if m.tokensErr != nil {
		return nil, m.tokensErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DeviceToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListAllDeviceTokens(_ context.Context) ([]*model.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.DeviceToken(nil), m.tokens...), nil
}

func (m *memStore) DeleteDeviceToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tokens {
		if t.Token == token {
			m.tokens = append(m.tokens[:i], m.tokens[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) GetPreferences(_ context.Context, userID string) (*model.NotificationPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefs, ok := m.prefs[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return prefs, nil
}

func (m *memStore) UpsertPreferences(_ context.Context, prefs *model.NotificationPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[prefs.UserID] = prefs
	return nil
}

func (m *memStore) AppendDeliveryLog(_ context.Context, log *model.DeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = uint64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *memStore) ListDeliveryLogs(_ context.Context) ([]*model.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.DeliveryLog(nil), m.logs...), nil
}

func (m *memStore) Close() error { return nil }

func testSigningKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.APNs.KeyID = "TESTKEY123"
	cfg.APNs.TeamID = "TESTTEAM12"
	cfg.APNs.PrivateKey = testSigningKey(t)
	cfg.APNs.Topic = "com.socialten.ten"
	cfg.APNs.RequestTimeout = 5 * time.Second
	return cfg
}

// dispatchFixture wires a DispatchService at a stand-in provider endpoint.
// handler decides the verdict per device token.
func dispatchFixture(t *testing.T, store *memStore, handler http.HandlerFunc) (*DispatchService, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := apns.New(srv.URL, "com.socialten.ten", 5*time.Second)
	if err != nil {
		t.Fatalf("apns client: %v", err)
	}
	return NewDispatchService(store, client, testConfig(t)), srv
}

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func registerTokens(t *testing.T, store *memStore, userID string, tokens ...string) {
	t.Helper()
	for _, token := range tokens {
		if err := store.UpsertDeviceToken(context.Background(), &model.DeviceToken{UserID: userID, Token: token}); err != nil {
			t.Fatalf("register token: %v", err)
		}
	}
}

func TestDispatchNoTokens(t *testing.T) {
	store := newMemStore()
	svc, _ := dispatchFixture(t, store, okHandler())

	_, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "vibe", UserID: "u1"})
	if !errors.Is(err, ErrNoDeviceTokens) {
		t.Fatalf("want ErrNoDeviceTokens, got %v", err)
	}
	if len(store.logs) != 0 {
		t.Fatalf("no log row expected, got %d", len(store.logs))
	}
}

func TestDispatchTokenLookupError(t *testing.T) {
	store := newMemStore()
	store.tokensErr = errors.New("store unreachable")
	svc, _ := dispatchFixture(t, store, okHandler())

	_, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "vibe", UserID: "u1"})
	if !errors.Is(err, ErrTokenLookup) {
		t.Fatalf("want ErrTokenLookup, got %v", err)
	}
	if len(store.logs) != 0 {
		t.Fatalf("no log row expected, got %d", len(store.logs))
	}
}

func TestDispatchDisabledByPreference(t *testing.T) {
	cases := []struct {
		notificationType string
		prefs            model.NotificationPreferences
	}{
		{model.TypeVibe, model.NotificationPreferences{FriendRequestsEnabled: true, RepliesEnabled: true}},
		{model.TypeFriendRequest, model.NotificationPreferences{VibesEnabled: true, RepliesEnabled: true}},
		{model.TypeReply, model.NotificationPreferences{VibesEnabled: true, FriendRequestsEnabled: true}},
	}
	for _, tc := range cases {
		t.Run(tc.notificationType, func(t *testing.T) {
			store := newMemStore()
			registerTokens(t, store, "u1", "tok-1")
			prefs := tc.prefs
			prefs.UserID = "u1"
			if err := store.UpsertPreferences(context.Background(), &prefs); err != nil {
				t.Fatal(err)
			}

			calls := 0
			svc, _ := dispatchFixture(t, store, func(w http.ResponseWriter, _ *http.Request) {
				calls++
				w.WriteHeader(http.StatusOK)
			})

			outcome, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: tc.notificationType, UserID: "u1"})
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if outcome.Skipped != model.SkipDisabled {
				t.Fatalf("want skipped=disabled, got %q", outcome.Skipped)
			}
			if calls != 0 {
				t.Fatalf("no provider call expected, got %d", calls)
			}
			if len(store.logs) != 0 {
				t.Fatalf("no log row expected, got %d", len(store.logs))
			}
		})
	}
}

func TestDispatchUnknownTypeBypassesFlags(t *testing.T) {
	store := newMemStore()
	registerTokens(t, store, "u1", "tok-1")
	// Every flag off: still sends, because only the three known types are gated.
	if err := store.UpsertPreferences(context.Background(), &model.NotificationPreferences{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	svc, _ := dispatchFixture(t, store, okHandler())

	outcome, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "badge_earned", UserID: "u1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Skipped != "" {
		t.Fatalf("unexpected skip %q", outcome.Skipped)
	}
	if !outcome.Success {
		t.Fatal("want success")
	}
}

func TestDispatchQuietHours(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		current    string
		suppressed bool
	}{
		{"same day inside", "13:00", "15:00", "14:00", true},
		{"same day outside", "13:00", "15:00", "16:00", false},
		{"same day at start", "13:00", "15:00", "13:00", true},
		{"same day at end", "13:00", "15:00", "15:00", false},
		{"overnight late evening", "22:00", "08:00", "23:30", true},
		{"overnight early morning", "22:00", "08:00", "06:00", true},
		{"overnight midday", "22:00", "08:00", "12:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			registerTokens(t, store, "u1", "tok-1")
			if err := store.UpsertPreferences(context.Background(), &model.NotificationPreferences{
				UserID:                "u1",
				VibesEnabled:          true,
				FriendRequestsEnabled: true,
				RepliesEnabled:        true,
				QuietHoursStart:       tc.start,
				QuietHoursEnd:         tc.end,
			}); err != nil {
				t.Fatal(err)
			}
			svc, _ := dispatchFixture(t, store, okHandler())
			svc.SetClock(func() time.Time {
				parsed, err := time.Parse("15:04", tc.current)
				if err != nil {
					t.Fatal(err)
				}
				now := time.Now()
				return time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, time.Local)
			})

			// Quiet hours are independent of type, so an ungated type is used.
			outcome, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "badge_earned", UserID: "u1"})
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if tc.suppressed {
				if outcome.Skipped != model.SkipQuietHours {
					t.Fatalf("want skipped=quiet_hours, got %q", outcome.Skipped)
				}
				if len(store.logs) != 0 {
					t.Fatalf("no log row expected, got %d", len(store.logs))
				}
			} else if outcome.Skipped != "" {
				t.Fatalf("unexpected skip %q", outcome.Skipped)
			}
		})
	}
}

func TestDispatchNoPreferencesRow(t *testing.T) {
	store := newMemStore()
	registerTokens(t, store, "u1", "tok-1")
	svc, _ := dispatchFixture(t, store, okHandler())

	outcome, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "vibe", UserID: "u1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Skipped != "" {
		t.Fatalf("missing preferences row must not skip, got %q", outcome.Skipped)
	}
	if !outcome.Success {
		t.Fatal("want success")
	}
}

func TestDispatchAllSucceed(t *testing.T) {
	store := newMemStore()
	registerTokens(t, store, "u1", "tok-1", "tok-2", "tok-3")
	svc, _ := dispatchFixture(t, store, okHandler())

	outcome, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "vibe", UserID: "u1", Title: "hey", Body: "vibe?"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !outcome.Success {
		t.Fatal("want success=true")
	}
	if len(outcome.Results) != 3 {
		t.Fatalf("want 3 results, got %d", len(outcome.Results))
	}
	for i, r := range outcome.Results {
		if !r.OK || r.Status != http.StatusOK {
			t.Fatalf("result %d not ok: %+v", i, r)
		}
	}
	if len(store.logs) != 1 {
		t.Fatalf("want 1 log row, got %d", len(store.logs))
	}
	if store.logs[0].Status != model.StatusSent {
		t.Fatalf("want status sent, got %q", store.logs[0].Status)
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	store := newMemStore()
	registerTokens(t, store, "u1", "tok-good", "tok-bad")
	svc, _ := dispatchFixture(t, store, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "tok-bad") {
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte(`{"reason":"Unregistered"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	outcome, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "reply", UserID: "u1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Success {
		t.Fatal("want success=false")
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("want 2 results, got %d", len(outcome.Results))
	}
	if !outcome.Results[0].OK {
		t.Fatalf("first token should succeed: %+v", outcome.Results[0])
	}
	if outcome.Results[1].OK || outcome.Results[1].Status != http.StatusGone {
		t.Fatalf("second token should fail with 410: %+v", outcome.Results[1])
	}
	if len(store.logs) != 1 || store.logs[0].Status != model.StatusPartialFailure {
		t.Fatalf("want one partial_failure log row, got %+v", store.logs)
	}
}

func TestDispatchTransportErrorTagged(t *testing.T) {
	store := newMemStore()
	registerTokens(t, store, "u1", "tok-1", "tok-2")
	svc, srv := dispatchFixture(t, store, okHandler())
	srv.Close() // every send now fails at the transport level

	outcome, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "vibe", UserID: "u1"})
	if err != nil {
		t.Fatalf("transport failures must not abort the dispatch: %v", err)
	}
	if outcome.Success {
		t.Fatal("want success=false")
	}
	for i, r := range outcome.Results {
		if r.Error == "" {
			t.Fatalf("result %d should carry a transport error: %+v", i, r)
		}
	}
	if len(store.logs) != 1 || store.logs[0].Status != model.StatusPartialFailure {
		t.Fatalf("want one partial_failure log row, got %+v", store.logs)
	}
}

func TestDispatchPayloadAndHeaders(t *testing.T) {
	store := newMemStore()
	registerTokens(t, store, "u1", "tok-1")

	var (
		gotPath    string
		gotHeaders http.Header
		gotBody    map[string]any
	)
	svc, _ := dispatchFixture(t, store, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	_, err := svc.Dispatch(context.Background(), model.DispatchRequest{
		Type:   "vibe",
		UserID: "u1",
		Title:  "Pizza night",
		Body:   "who's in?",
		Data:   map[string]any{"vibeId": "v42"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if gotPath != "/3/device/tok-1" {
		t.Fatalf("wrong device path %q", gotPath)
	}
	if got := gotHeaders.Get("apns-topic"); got != "com.socialten.ten" {
		t.Fatalf("apns-topic = %q", got)
	}
	if got := gotHeaders.Get("apns-push-type"); got != "alert" {
		t.Fatalf("apns-push-type = %q", got)
	}
	if got := gotHeaders.Get("apns-priority"); got != "10" {
		t.Fatalf("apns-priority = %q", got)
	}
	if got := gotHeaders.Get("apns-expiration"); got != "0" {
		t.Fatalf("apns-expiration = %q", got)
	}
	auth := gotHeaders.Get("Authorization")
	if !strings.HasPrefix(auth, "bearer ") || strings.Count(auth, ".") != 2 {
		t.Fatalf("authorization header is not a bearer JWT: %q", auth)
	}

	aps, ok := gotBody["aps"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing aps: %v", gotBody)
	}
	alert, ok := aps["alert"].(map[string]any)
	if !ok {
		t.Fatalf("aps missing alert: %v", aps)
	}
	if alert["title"] != "Pizza night" || alert["body"] != "who's in?" {
		t.Fatalf("alert mismatch: %v", alert)
	}
	if gotBody["type"] != "vibe" {
		t.Fatalf("type missing from payload: %v", gotBody)
	}
	if gotBody["vibeId"] != "v42" {
		t.Fatalf("data not merged at top level: %v", gotBody)
	}
}

func TestDispatchBadSigningKey(t *testing.T) {
	store := newMemStore()
	registerTokens(t, store, "u1", "tok-1")
	srv := httptest.NewServer(okHandler())
	t.Cleanup(srv.Close)
	client, err := apns.New(srv.URL, "com.socialten.ten", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)
	cfg.APNs.PrivateKey = "not a key"
	svc := NewDispatchService(store, client, cfg)

	if _, err := svc.Dispatch(context.Background(), model.DispatchRequest{Type: "vibe", UserID: "u1"}); err == nil {
		t.Fatal("want signing error")
	}
	if len(store.logs) != 0 {
		t.Fatalf("no log row expected, got %d", len(store.logs))
	}
}

func TestInQuietHours(t *testing.T) {
	cases := []struct {
		current, start, end string
		want                bool
	}{
		{"14:00", "13:00", "15:00", true},
		{"16:00", "13:00", "15:00", false},
		{"23:30", "22:00", "08:00", true},
		{"12:00", "22:00", "08:00", false},
		{"22:00", "22:00", "08:00", true},
		{"08:00", "22:00", "08:00", false},
		{"10:00", "10:00", "10:00", false},
		{"14:00", "bogus", "15:00", false},
		{"14:00", "13:00", "25:61", false},
	}
	for _, tc := range cases {
		if got := inQuietHours(tc.current, tc.start, tc.end); got != tc.want {
			t.Errorf("inQuietHours(%q, %q, %q) = %v, want %v", tc.current, tc.start, tc.end, got, tc.want)
		}
	}
}
