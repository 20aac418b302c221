package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/kwhtracker/internal/clock"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// LocalLocker keeps leases in process memory. Expired leases are taken over.
type LocalLocker struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[string]lease
}

func NewLocalLocker(clk clock.Clock) *LocalLocker {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &LocalLocker{
		clock:  clk,
		leases: make(map[string]lease),
	}
}

func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if current, ok := l.leases[key]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *LocalLocker) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.leases[key]; ok && current.token == token {
		delete(l.leases, key)
	}
	return nil
}
