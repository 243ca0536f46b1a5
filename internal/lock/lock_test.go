package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	l, err := New("redis://"+mr.Addr(), "")
	if err != nil {
		mr.Close()
		t.Fatalf("New: %v", err)
	}
	return l, mr
}

func TestAcquireExclusive(t *testing.T) {
	l, mr := setupTestLocker(t)
	defer mr.Close()
	defer l.Close()

	ctx := context.Background()
	release, ok, err := l.Acquire(ctx, "validator.info", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v; want true, nil", ok, err)
	}

	_, ok, err = l.Acquire(ctx, "validator.info", time.Minute)
	if err != nil {
		t.Fatalf("second Acquire error: %v", err)
	}
	if ok {
		t.Error("second Acquire should fail while lease is held")
	}

	_, ok, _ = l.Acquire(ctx, "other-source", time.Minute)
	if !ok {
		t.Error("leases of different sources must not conflict")
	}

	release()
	_, ok, _ = l.Acquire(ctx, "validator.info", time.Minute)
	if !ok {
		t.Error("Acquire should succeed after release")
	}
}

func TestLeaseExpires(t *testing.T) {
	l, mr := setupTestLocker(t)
	defer mr.Close()
	defer l.Close()

	ctx := context.Background()
	if _, ok, _ := l.Acquire(ctx, "src", time.Second); !ok {
		t.Fatal("Acquire should succeed")
	}
	mr.FastForward(2 * time.Second)
	if _, ok, _ := l.Acquire(ctx, "src", time.Second); !ok {
		t.Error("Acquire should succeed after TTL")
	}
}

func TestStaleReleaseKeepsNewLease(t *testing.T) {
	l, mr := setupTestLocker(t)
	defer mr.Close()
	defer l.Close()

	ctx := context.Background()
	stale, _, _ := l.Acquire(ctx, "src", time.Second)
	mr.FastForward(2 * time.Second)
	if _, ok, _ := l.Acquire(ctx, "src", time.Minute); !ok {
		t.Fatal("Acquire after expiry should succeed")
	}

	stale()

	if _, ok, _ := l.Acquire(ctx, "src", time.Minute); ok {
		t.Error("stale release must not drop the current holder's lease")
	}
}

func TestAcquireRedisDown(t *testing.T) {
	l, mr := setupTestLocker(t)
	defer l.Close()
	mr.Close()

	_, ok, err := l.Acquire(context.Background(), "src", time.Minute)
	if err == nil || ok {
		t.Errorf("Acquire with redis down = %v, %v; want false, error", ok, err)
	}
}
