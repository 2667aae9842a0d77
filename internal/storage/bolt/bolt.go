package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/SwitchGaming/ten-push-gateway/internal/model"
	"github.com/SwitchGaming/ten-push-gateway/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Store = (*Store)(nil)

var (
	bucketTokens      = []byte("device_tokens")
	bucketPreferences = []byte("notification_preferences")
	bucketDeliveryLog = []byte("delivery_logs")
)

// Store is a BoltDB-backed Store implementation. Device tokens are keyed by
// the token itself (tokens are globally unique and move between users on
// re-registration), preferences by user id, delivery logs by sequence number.
type Store struct {
	db *bolt.DB
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTokens, bucketPreferences, bucketDeliveryLog} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertDeviceToken stores or updates a token registration.
func (s *Store) UpsertDeviceToken(ctx context.Context, token *model.DeviceToken) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Put([]byte(token.Token), payload)
	})
}

// ListDeviceTokens returns all tokens registered for a user.
func (s *Store) ListDeviceTokens(ctx context.Context, userID string) ([]*model.DeviceToken, error) {
	return s.listTokens(ctx, func(t *model.DeviceToken) bool {
		return t.UserID == userID
	})
}

// ListAllDeviceTokens returns every registered token.
func (s *Store) ListAllDeviceTokens(ctx context.Context) ([]*model.DeviceToken, error) {
	return s.listTokens(ctx, func(*model.DeviceToken) bool { return true })
}

func (s *Store) listTokens(ctx context.Context, filter func(*model.DeviceToken) bool) ([]*model.DeviceToken, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var tokens []*model.DeviceToken
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(_, v []byte) error {
			var token model.DeviceToken
			if err := json.Unmarshal(v, &token); err != nil {
				return err
			}
			if filter(&token) {
				copied := token
				tokens = append(tokens, &copied)
			}
			return nil
		})
	})
	return tokens, err
}

// DeleteDeviceToken removes a token registration.
func (s *Store) DeleteDeviceToken(ctx context.Context, token string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketTokens)
		if bkt.Get([]byte(token)) == nil {
			return storage.ErrNotFound
		}
		return bkt.Delete([]byte(token))
	})
}

// GetPreferences fetches the preferences row for a user, or ErrNotFound when
// the user never saved one.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*model.NotificationPreferences, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var prefs *model.NotificationPreferences
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPreferences).Get([]byte(userID))
		if v == nil {
			return nil
		}
		prefs = &model.NotificationPreferences{}
		return json.Unmarshal(v, prefs)
	})
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		return nil, storage.ErrNotFound
	}
	return prefs, nil
}

// UpsertPreferences stores or replaces a user's preferences row.
func (s *Store) UpsertPreferences(ctx context.Context, prefs *model.NotificationPreferences) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	prefs.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPreferences).Put([]byte(prefs.UserID), payload)
	})
}

// AppendDeliveryLog stores a dispatch log entry.
func (s *Store) AppendDeliveryLog(ctx context.Context, log *model.DeliveryLog) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDeliveryLog)
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		log.ID = id
		payload, err := json.Marshal(log)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return bkt.Put(key, payload)
	})
}

// ListDeliveryLogs returns all delivery logs.
func (s *Store) ListDeliveryLogs(ctx context.Context) ([]*model.DeliveryLog, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var logs []*model.DeliveryLog
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveryLog).ForEach(func(_, v []byte) error {
			var log model.DeliveryLog
			if err := json.Unmarshal(v, &log); err != nil {
				return err
			}
			copied := log
			logs = append(logs, &copied)
			return nil
		})
	})
	return logs, err
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
