package otp

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		if err != nil {
			t.Fatalf("GenerateCode() error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("expected digits only, got %q", code)
			}
		}
	}
}

func TestNewStore_DefaultTTL(t *testing.T) {
	s := NewStore(nil, 0)
	if s.TTL() != 10*time.Minute {
		t.Errorf("expected 10m default, got %v", s.TTL())
	}
}

func TestStore_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	s := NewStore(client, time.Minute)

	if _, err := s.Issue(context.Background(), "login:a@b.c", nil); err == nil {
		t.Error("expected Issue to fail without redis")
	}
	err := s.Verify(context.Background(), "login:a@b.c", "123456", nil)
	if err == nil || err == ErrExpired || err == ErrInvalidCode {
		t.Errorf("expected a storage error, got %v", err)
	}
}
