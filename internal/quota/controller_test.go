package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dropgen/internal/adapter/memrepo"
	"dropgen/internal/domain"
)

func newTestController(t *testing.T, daily, monthly int) *Controller {
	t.Helper()
	c, err := New(context.Background(), memrepo.NewQuotaStore(), daily, monthly)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCheckAndReserveAdmitsUpToLimit(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, 3, 100)

	for i := 0; i < 3; i++ {
		d, err := c.CheckAndReserve(ctx, 1)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !d.Admitted {
			t.Fatalf("reserve %d denied, want admitted", i)
		}
	}

	d, err := c.CheckAndReserve(ctx, 1)
	if err != nil {
		t.Fatalf("reserve over limit: %v", err)
	}
	if d.Admitted {
		t.Fatal("reservation over limit admitted")
	}
	if d.Window != WindowDaily {
		t.Fatalf("denied window = %q, want %q", d.Window, WindowDaily)
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %v, want > 0", d.RetryAfter)
	}
}

func TestConcurrentReservationsNeverExceedLimit(t *testing.T) {
	ctx := context.Background()
	const limit = 10
	const callers = 50
	c := newTestController(t, limit, 1000)

	var wg sync.WaitGroup
	admitted := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := c.CheckAndReserve(ctx, 1)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if d.Admitted {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	n := 0
	for range admitted {
		n++
	}
	if n != limit {
		t.Fatalf("admitted = %d, want exactly %d", n, limit)
	}

	for _, s := range c.Status(ctx) {
		if s.Usage > s.Limit {
			t.Fatalf("window %s usage %d exceeds limit %d", s.Name, s.Usage, s.Limit)
		}
	}
}

func TestWindowRollover(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, 2, 100)

	// Anchor the fake clock at construction time, so the advanced clock
	// below lands past the windows' initial reset.
	base := time.Now()
	c.SetNowFunc(func() time.Time { return base })

	for i := 0; i < 2; i++ {
		if d, _ := c.CheckAndReserve(ctx, 1); !d.Admitted {
			t.Fatalf("reserve %d denied", i)
		}
	}
	if d, _ := c.CheckAndReserve(ctx, 1); d.Admitted {
		t.Fatal("daily window should be exhausted")
	}

	// Just past the daily reset: the rollover must land at usage=units,
	// not zero-then-increment, and resetAt must advance a full window.
	afterReset := base.Add(dailyDuration + time.Second)
	c.SetNowFunc(func() time.Time { return afterReset })

	d, err := c.CheckAndReserve(ctx, 1)
	if err != nil {
		t.Fatalf("reserve after reset: %v", err)
	}
	if !d.Admitted {
		t.Fatal("reservation after reset denied")
	}

	for _, s := range c.Status(ctx) {
		if s.Name != WindowDaily {
			continue
		}
		if s.Usage != 1 {
			t.Fatalf("daily usage after rollover = %d, want 1", s.Usage)
		}
		if got := s.ResetAt; !got.Equal(afterReset.Add(dailyDuration)) {
			t.Fatalf("daily resetAt = %v, want %v", got, afterReset.Add(dailyDuration))
		}
	}
}

func TestDenialIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	// Monthly window smaller than daily, so monthly denies first.
	c := newTestController(t, 100, 1)

	if d, _ := c.CheckAndReserve(ctx, 1); !d.Admitted {
		t.Fatal("first reservation denied")
	}
	d, _ := c.CheckAndReserve(ctx, 1)
	if d.Admitted {
		t.Fatal("second reservation should be denied by monthly window")
	}
	if d.Window != WindowMonthly {
		t.Fatalf("denied window = %q, want %q", d.Window, WindowMonthly)
	}

	// The daily counter must not have moved for the denied reservation.
	for _, s := range c.Status(ctx) {
		if s.Name == WindowDaily && s.Usage != 1 {
			t.Fatalf("daily usage = %d after denial, want 1", s.Usage)
		}
	}
}

// recordingStore captures every Save batch and can fail on demand.
type recordingStore struct {
	mu       sync.Mutex
	saves    [][]domain.QuotaState
	failSave bool
}

func (s *recordingStore) Load(ctx context.Context, window string) (*domain.QuotaState, error) {
	return nil, nil
}

func (s *recordingStore) Save(ctx context.Context, states []domain.QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("store down")
	}
	batch := append([]domain.QuotaState(nil), states...)
	s.saves = append(s.saves, batch)
	return nil
}

func TestReservationPersistsBothWindowsAtomically(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	c, err := New(ctx, store, 5, 50)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if d, _ := c.CheckAndReserve(ctx, 1); !d.Admitted {
		t.Fatal("reservation denied")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saves) != 1 {
		t.Fatalf("save calls = %d, want 1 batched write", len(store.saves))
	}
	windows := map[string]int{}
	for _, s := range store.saves[0] {
		windows[s.Window] = s.Usage
	}
	if windows[WindowDaily] != 1 || windows[WindowMonthly] != 1 {
		t.Fatalf("persisted batch = %v, want both windows at usage 1", windows)
	}
}

func TestFailedSaveLeavesCountersUntouched(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	c, err := New(ctx, store, 5, 50)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d, _ := c.CheckAndReserve(ctx, 1); !d.Admitted {
		t.Fatal("first reservation denied")
	}

	store.mu.Lock()
	store.failSave = true
	store.mu.Unlock()

	if _, err := c.CheckAndReserve(ctx, 1); err == nil {
		t.Fatal("expected the store error to propagate")
	}

	// The failed write must not have moved the in-memory counters.
	for _, s := range c.Status(ctx) {
		if s.Usage != 1 {
			t.Fatalf("window %s usage = %d after failed save, want 1", s.Name, s.Usage)
		}
	}

	store.mu.Lock()
	store.failSave = false
	store.mu.Unlock()

	if d, _ := c.CheckAndReserve(ctx, 1); !d.Admitted {
		t.Fatal("reservation after recovery denied")
	}
}

func TestQuotaStatePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := memrepo.NewQuotaStore()

	c1, err := New(ctx, store, 5, 50)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if d, _ := c1.CheckAndReserve(ctx, 1); !d.Admitted {
			t.Fatalf("reserve %d denied", i)
		}
	}

	c2, err := New(ctx, store, 5, 50)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	for _, s := range c2.Status(ctx) {
		if s.Usage != 3 {
			t.Fatalf("window %s usage after restart = %d, want 3", s.Name, s.Usage)
		}
	}
}
