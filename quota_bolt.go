package quotaguard

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	quotaBucket      = []byte("quota")
	quotaExceededKey = []byte("exceeded")
	quotaAtKey       = []byte("exceeded_at")
)

// BoltQuotaStore persists the quota flag as two keys in a bbolt file.
type BoltQuotaStore struct {
	db *bolt.DB
}

// OpenBoltQuotaStore opens (creating if needed) the store at path.
func OpenBoltQuotaStore(path string) (*BoltQuotaStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open quota store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(quotaBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init quota bucket: %w", err)
	}

	return &BoltQuotaStore{db: db}, nil
}

// Load reads the flag. Missing keys read as a cleared flag.
func (s *BoltQuotaStore) Load(context.Context) (QuotaFlag, error) {
	var flag QuotaFlag
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(quotaBucket)
		if b == nil {
			return nil
		}
		flag.Exceeded = string(b.Get(quotaExceededKey)) == "true"
		if raw := b.Get(quotaAtKey); len(raw) > 0 {
			at, err := time.Parse(time.RFC3339Nano, string(raw))
			if err != nil {
				return fmt.Errorf("parse %s: %w", quotaAtKey, err)
			}
			flag.ExceededAt = at
		}
		return nil
	})
	return flag, err
}

// Save writes both keys in one transaction.
func (s *BoltQuotaStore) Save(_ context.Context, flag QuotaFlag) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(quotaBucket)
		if err != nil {
			return err
		}
		if err := b.Put(quotaExceededKey, []byte(fmt.Sprint(flag.Exceeded))); err != nil {
			return err
		}
		return b.Put(quotaAtKey, []byte(flag.ExceededAt.UTC().Format(time.RFC3339Nano)))
	})
}

// Clear removes both keys.
func (s *BoltQuotaStore) Clear(context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(quotaBucket)
		if b == nil {
			return nil
		}
		if err := b.Delete(quotaExceededKey); err != nil {
			return err
		}
		return b.Delete(quotaAtKey)
	})
}

// Close releases the underlying file.
func (s *BoltQuotaStore) Close() error {
	return s.db.Close()
}
