package lock

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ralphops/ralphctl/internal/domain"
)

func newTestLock(t *testing.T) *Lock {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "helper.lock"))
}

func TestLock_AcquireRelease(t *testing.T) {
	l := newTestLock(t)

	granted, holder, err := l.Acquire("sup-A")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !granted {
		t.Fatal("Acquire() not granted on free lock")
	}
	if holder.HolderID != "sup-A" {
		t.Errorf("holder = %q, want sup-A", holder.HolderID)
	}
	if !l.Held() {
		t.Error("Held() = false after acquire")
	}

	if err := l.Release("sup-A"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if l.Held() {
		t.Error("Held() = true after release")
	}
}

func TestLock_Contention(t *testing.T) {
	l := newTestLock(t)

	if granted, _, _ := l.Acquire("sup-A"); !granted {
		t.Fatal("first Acquire() not granted")
	}

	granted, holder, err := l.Acquire("sup-B")
	if granted {
		t.Fatal("second Acquire() granted while held")
	}
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("err = %v, want ErrLockHeld", err)
	}
	if holder == nil || holder.HolderID != "sup-A" {
		t.Errorf("contention holder = %+v, want sup-A", holder)
	}

	// After release by the real holder, B can acquire.
	if err := l.Release("sup-A"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if granted, _, _ := l.Acquire("sup-B"); !granted {
		t.Error("Acquire() after release not granted")
	}
}

func TestLock_ConcurrentAcquireExactlyOneWins(t *testing.T) {
	l := newTestLock(t)

	const n = 16
	var wg sync.WaitGroup
	results := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			granted, _, _ := l.Acquire("owner")
			results[i] = granted
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, granted := range results {
		if granted {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("granted count = %d, want exactly 1", wins)
	}
}

func TestLock_ReleaseRejectsNonHolder(t *testing.T) {
	l := newTestLock(t)
	if granted, _, _ := l.Acquire("sup-A"); !granted {
		t.Fatal("Acquire() not granted")
	}

	err := l.Release("sup-B")
	if !errors.Is(err, domain.ErrLockNotHolder) {
		t.Errorf("Release() by non-holder err = %v, want ErrLockNotHolder", err)
	}
	if !l.Held() {
		t.Error("lock removed by non-holder release")
	}
}

func TestLock_ReleaseIdempotentWhenFree(t *testing.T) {
	l := newTestLock(t)
	if err := l.Release("sup-A"); err != nil {
		t.Errorf("Release() on free lock error = %v", err)
	}
}

func TestLock_ForceRelease(t *testing.T) {
	l := newTestLock(t)
	if granted, _, _ := l.Acquire("sup-A"); !granted {
		t.Fatal("Acquire() not granted")
	}

	if err := l.ForceRelease(); err != nil {
		t.Fatalf("ForceRelease() error = %v", err)
	}
	if l.Held() {
		t.Error("Held() = true after force release")
	}
}
