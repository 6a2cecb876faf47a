package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"whereabouts-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RegistrationStatus tells whether new clients may register
type RegistrationStatus string

const (
	RegistrationOpen   RegistrationStatus = "open"
	RegistrationClosed RegistrationStatus = "closed"
)

// ParseRegistrationStatus validates a textual registration status
func ParseRegistrationStatus(s string) (RegistrationStatus, error) {
	switch RegistrationStatus(s) {
	case RegistrationOpen, RegistrationClosed:
		return RegistrationStatus(s), nil
	default:
		return "", fmt.Errorf("unknown registration status %q: %w", s, models.ErrValidation)
	}
}

// RegistrationPolicy is consulted before a client may register
type RegistrationPolicy interface {
	RegistrationStatus(ctx context.Context) (RegistrationStatus, error)
}

// MutableRegistrationPolicy is a RegistrationPolicy administrators can switch
type MutableRegistrationPolicy interface {
	RegistrationPolicy
	SetRegistrationStatus(ctx context.Context, status RegistrationStatus) error
}

// MemoryRegistrationPolicy keeps the status in process memory
type MemoryRegistrationPolicy struct {
	mu     sync.RWMutex
	status RegistrationStatus
}

// NewMemoryRegistrationPolicy creates a policy starting at the given status
func NewMemoryRegistrationPolicy(initial RegistrationStatus) *MemoryRegistrationPolicy {
	return &MemoryRegistrationPolicy{status: initial}
}

func (p *MemoryRegistrationPolicy) RegistrationStatus(ctx context.Context) (RegistrationStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status, nil
}

func (p *MemoryRegistrationPolicy) SetRegistrationStatus(ctx context.Context, status RegistrationStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	return nil
}

const registrationKey = "whereabouts:client_registration"

// RedisRegistrationPolicy shares the status between all instances of the
// service. Without a stored value the fallback applies.
type RedisRegistrationPolicy struct {
	rdb      *redis.Client
	fallback RegistrationStatus
}

// NewRedisRegistrationPolicy creates a Redis-backed policy
func NewRedisRegistrationPolicy(rdb *redis.Client, fallback RegistrationStatus) *RedisRegistrationPolicy {
	return &RedisRegistrationPolicy{rdb: rdb, fallback: fallback}
}

func (p *RedisRegistrationPolicy) RegistrationStatus(ctx context.Context) (RegistrationStatus, error) {
	value, err := p.rdb.Get(ctx, registrationKey).Result()
	if errors.Is(err, redis.Nil) {
		return p.fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read registration status: %w", err)
	}

	status, err := ParseRegistrationStatus(value)
	if err != nil {
		return p.fallback, nil
	}
	return status, nil
}

func (p *RedisRegistrationPolicy) SetRegistrationStatus(ctx context.Context, status RegistrationStatus) error {
	if err := p.rdb.Set(ctx, registrationKey, string(status), 0).Err(); err != nil {
		return fmt.Errorf("failed to store registration status: %w", err)
	}
	return nil
}
