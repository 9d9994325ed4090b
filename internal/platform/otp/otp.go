// Package otp issues and verifies short-lived numeric codes stored in Redis.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrExpired     = errors.New("code expired or not requested")
	ErrInvalidCode = errors.New("invalid code")
)

const (
	codeDigits  = 6
	maxAttempts = 5
)

// entry is what a pending code is stored as. Payload carries the data the
// caller needs once the code is verified, e.g. a pending registration.
type entry struct {
	Code     string          `json:"code"`
	Attempts int             `json:"attempts"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Store keeps one pending code per key.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{client: client, ttl: ttl, prefix: "otp:"}
}

func (s *Store) TTL() time.Duration { return s.ttl }

// Issue generates a fresh code for key, replacing any pending one, and stores
// payload alongside it.
func (s *Store) Issue(ctx context.Context, key string, payload interface{}) (string, error) {
	code, err := GenerateCode(codeDigits)
	if err != nil {
		return "", err
	}
	e := entry{Code: code}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode otp payload: %w", err)
		}
		e.Payload = raw
	}
	if err := s.save(ctx, key, e, s.ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Verify checks code for key. On success the code is consumed and its payload
// decoded into out (which may be nil). After maxAttempts wrong guesses the
// code is discarded.
func (s *Store) Verify(ctx context.Context, key, code string, out interface{}) error {
	k := s.prefix + key
	raw, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrExpired
	}
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("decode otp: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(e.Code), []byte(code)) != 1 {
		e.Attempts++
		if e.Attempts >= maxAttempts {
			s.client.Del(ctx, k)
			return ErrInvalidCode
		}
		ttl, err := s.client.TTL(ctx, k).Result()
		if err == nil && ttl > 0 {
			_ = s.save(ctx, key, e, ttl)
		}
		return ErrInvalidCode
	}

	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if out != nil && len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, out); err != nil {
			return fmt.Errorf("decode otp payload: %w", err)
		}
	}
	return nil
}

func (s *Store) save(ctx context.Context, key string, e entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode otp: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	return nil
}

// GenerateCode returns a zero-padded random decimal code of n digits.
func GenerateCode(n int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
