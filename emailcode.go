package authcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Email codes are stored hashed with a TTL and a bounded attempt counter.
// A correct code consumes the record; too many wrong codes burn it, so a
// fresh login (and a fresh code) is required afterwards.

const emailCodeRecordVersionV1 = 1

var (
	errEmailCodeNotFound         = errors.New("email code not found")
	errEmailCodeMismatch         = errors.New("email code mismatch")
	errEmailCodeAttemptsExceeded = errors.New("email code attempts exceeded")
	errEmailCodeStoreUnavailable = errors.New("email code store unavailable")
)

type emailCodeRecord struct {
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

// emailCodeStore persists pending one-time codes keyed by purpose and
// user. Consume is all-or-nothing: success deletes the record, a final
// failed attempt deletes it too.
type emailCodeStore interface {
	Set(ctx context.Context, id string, codeHash [32]byte, ttl time.Duration) error
	Consume(ctx context.Context, id string, providedHash [32]byte, maxAttempts int) error
}

type redisEmailCodeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func newRedisEmailCodeStore(client redis.UniversalClient, prefix string) *redisEmailCodeStore {
	if prefix == "" {
		prefix = "aec"
	}
	return &redisEmailCodeStore{redis: client, prefix: prefix, now: time.Now}
}

func (s *redisEmailCodeStore) key(ctx context.Context, id string) string {
	return s.prefix + ":" + tenantIDFromContext(ctx) + ":" + id
}

func (s *redisEmailCodeStore) Set(ctx context.Context, id string, codeHash [32]byte, ttl time.Duration) error {
	record := &emailCodeRecord{
		CodeHash:  codeHash,
		ExpiresAt: s.now().Add(ttl).Unix(),
	}
	encoded, err := encodeEmailCodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(ctx, id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errEmailCodeStoreUnavailable, err)
	}
	return nil
}

func (s *redisEmailCodeStore) Consume(ctx context.Context, id string, providedHash [32]byte, maxAttempts int) error {
	const maxRetries = 4
	key := s.key(ctx, id)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeEmailCodeRecord(data)
			if err != nil {
				return err
			}

			if s.now().Unix() > record.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errEmailCodeNotFound
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return errEmailCodeAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return errEmailCodeNotFound
				}

				updated, err := encodeEmailCodeRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errEmailCodeMismatch
			}

			return txDelete(ctx, tx, key)
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return errEmailCodeNotFound
			case errors.Is(err, errEmailCodeNotFound),
				errors.Is(err, errEmailCodeMismatch),
				errors.Is(err, errEmailCodeAttemptsExceeded):
				return err
			default:
				return fmt.Errorf("%w: %v", errEmailCodeStoreUnavailable, err)
			}
		}
		return nil
	}

	return errEmailCodeNotFound
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeEmailCodeRecord(record *emailCodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(emailCodeRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeEmailCodeRecord(data []byte) (*emailCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != emailCodeRecordVersionV1 {
		return nil, errors.New("invalid email code record version")
	}

	record := &emailCodeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

// memoryEmailCodeStore backs single-node builds where no redis client was
// supplied. Expired records are dropped lazily on the next touch.
type memoryEmailCodeStore struct {
	mu      sync.Mutex
	records map[string]*emailCodeRecord
	now     func() time.Time
}

func newMemoryEmailCodeStore(now func() time.Time) *memoryEmailCodeStore {
	if now == nil {
		now = time.Now
	}
	return &memoryEmailCodeStore{
		records: make(map[string]*emailCodeRecord),
		now:     now,
	}
}

func (s *memoryEmailCodeStore) key(ctx context.Context, id string) string {
	return tenantIDFromContext(ctx) + ":" + id
}

func (s *memoryEmailCodeStore) Set(ctx context.Context, id string, codeHash [32]byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.key(ctx, id)] = &emailCodeRecord{
		CodeHash:  codeHash,
		ExpiresAt: s.now().Add(ttl).Unix(),
	}
	return nil
}

func (s *memoryEmailCodeStore) Consume(ctx context.Context, id string, providedHash [32]byte, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(ctx, id)
	record, ok := s.records[key]
	if !ok {
		return errEmailCodeNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		delete(s.records, key)
		return errEmailCodeNotFound
	}

	if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
		record.Attempts++
		if int(record.Attempts) >= maxAttempts {
			delete(s.records, key)
			return errEmailCodeAttemptsExceeded
		}
		return errEmailCodeMismatch
	}

	delete(s.records, key)
	return nil
}
