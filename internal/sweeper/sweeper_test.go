package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trialkey-service/internal/model"
	"github.com/trialkey-service/internal/store"
)

type flakyBackend struct {
	*store.Memory
	mu      sync.Mutex
	loadErr error
	loads   int
	saves   int
}

func (b *flakyBackend) Load(ctx context.Context) (*model.KeyDatabase, error) {
	b.mu.Lock()
	b.loads++
	err := b.loadErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.Memory.Load(ctx)
}

func (b *flakyBackend) Save(ctx context.Context, db *model.KeyDatabase) error {
	b.mu.Lock()
	b.saves++
	b.mu.Unlock()
	return b.Memory.Save(ctx, db)
}

func seed(t *testing.T, b store.Backend, now time.Time, ages map[string]time.Duration) {
	t.Helper()
	db := model.NewKeyDatabase()
	for k, age := range ages {
		db.Keys[k] = &model.KeyRecord{Key: k, GeneratedAt: now.Add(-age), Fingerprint: k}
	}
	if err := b.Save(context.Background(), db); err != nil {
		t.Fatal(err)
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	b := &flakyBackend{Memory: store.NewMemory()}
	seed(t, b.Memory, now, map[string]time.Duration{
		"fresh":     time.Hour,
		"almost":    24*time.Hour - time.Nanosecond,
		"boundary":  24 * time.Hour,
		"long-gone": 72 * time.Hour,
	})

	s := New(store.New(b, nil), 24*time.Hour, time.Hour, nil)
	s.now = func() time.Time { return now }

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Removed != 2 || res.Kept != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	db, _ := b.Memory.Load(context.Background())
	for _, k := range []string{"fresh", "almost"} {
		if _, ok := db.Keys[k]; !ok {
			t.Fatalf("expected %s to be kept", k)
		}
	}
	for _, k := range []string{"boundary", "long-gone"} {
		if _, ok := db.Keys[k]; ok {
			t.Fatalf("expected %s to be removed", k)
		}
	}
}

func TestSweepSkipsSaveWhenNothingExpired(t *testing.T) {
	now := time.Now().UTC()
	b := &flakyBackend{Memory: store.NewMemory()}
	seed(t, b.Memory, now, map[string]time.Duration{"fresh": time.Minute})

	s := New(store.New(b, nil), 24*time.Hour, time.Hour, nil)
	s.now = func() time.Time { return now }

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 0 || b.saves != 0 {
		t.Fatalf("expected no removal and no save, got removed=%d saves=%d", res.Removed, b.saves)
	}
}

func TestSweepPropagatesStoreFailure(t *testing.T) {
	b := &flakyBackend{Memory: store.NewMemory(), loadErr: errors.New("io error")}
	s := New(store.New(b, nil), 24*time.Hour, time.Hour, nil)

	_, err := s.Sweep(context.Background())
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRunContinuesAfterFailureAndStops(t *testing.T) {
	b := &flakyBackend{Memory: store.NewMemory(), loadErr: errors.New("io error")}
	s := New(store.New(b, nil), 24*time.Hour, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		b.mu.Lock()
		loads := b.loads
		b.mu.Unlock()
		if loads >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected sweeper to keep ticking after failures, saw %d loads", loads)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after cancel")
	}
}

func TestNewDefaults(t *testing.T) {
	s := New(store.New(store.NewMemory(), nil), 0, 0, nil)
	if s.interval != DefaultInterval || s.validity != model.DefaultValidity {
		t.Fatalf("unexpected defaults: interval=%v validity=%v", s.interval, s.validity)
	}
}
