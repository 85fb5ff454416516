package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/HatiCode/lycsurv/pkg/models"
	"github.com/HatiCode/lycsurv/pkg/survival"
)

func testSnapshot(key string, fittedAt time.Time) Snapshot {
	return Snapshot{
		Key:        key,
		RunID:      "run-" + key,
		Method:     models.MethodCoxPH,
		Response:   "f_esc(LyC)",
		Predictors: []string{"O32", "beta_UV"},
		FittedAt:   fittedAt,
		Rows:       89,
		Events:     37,
		Params: models.Params{
			Method:       models.MethodCoxPH,
			Predictors:   []string{"O32", "beta_UV"},
			Reflected:    true,
			Coefficients: []float64{-0.4, 1.1},
			Means:        []float64{4.2, -2.0},
			Baseline:     &survival.Curve{X: []float64{0.5, 0.8, 0.99}, H: []float64{0.1, 0.6, 2.3}},
		},
		Stats: &models.Stats{R2: 0.41, R2Adj: 0.38, RMS: 0.52, Concordance: 0.77, Estimator: models.ConcordanceHarrell, N: 37},
	}
}

func TestKey(t *testing.T) {
	a := Key("abc", "coxph", "f_esc(LyC)", "O32,beta_UV")
	if a != Key("abc", "coxph", "f_esc(LyC)", "O32,beta_UV") {
		t.Error("Key() is not deterministic")
	}
	if len(a) != 32 {
		t.Errorf("len(Key()) = %d, want 32", len(a))
	}

	tests := [][]string{
		{"abc", "weibull", "f_esc(LyC)", "O32,beta_UV"},
		{"abc", "coxph", "f_esc(LyA)", "O32,beta_UV"},
		{"abc", "coxph", "f_esc(LyC)", "beta_UV,O32"},
		{"ab", "ccoxph", "f_esc(LyC)", "O32,beta_UV"},
	}
	for _, parts := range tests {
		if Key(parts...) == a {
			t.Errorf("Key(%q) collides with the reference key", parts)
		}
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	want := testSnapshot("k1", time.Now())
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := store.Get(ctx, "k1")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, error %v; want found", found, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	if _, found, err := store.Get(ctx, "missing"); err != nil || found {
		t.Errorf("Get(missing) = found %v, error %v; want not found", found, err)
	}
}

func TestMemoryStore_PutErrors(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(context.Background(), Snapshot{}); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Put() empty key error = %v, want %v", err, ErrEmptyKey)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Put(ctx, testSnapshot("k", time.Now())); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() canceled error = %v, want %v", err, context.Canceled)
	}
	if _, _, err := store.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() canceled error = %v, want %v", err, context.Canceled)
	}
}

func TestMemoryStore_Replace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := testSnapshot("k", time.Now())
	second := testSnapshot("k", time.Now())
	second.RunID = "second"

	_ = store.Put(ctx, first)
	_ = store.Put(ctx, second)

	got, _, _ := store.Get(ctx, "k")
	if got.RunID != "second" {
		t.Errorf("RunID = %q, want %q", got.RunID, "second")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Put(context.Background(), testSnapshot("k", time.Now()))

	if !store.Delete("k") {
		t.Error("Delete() = false, want true")
	}
	if store.Delete("k") {
		t.Error("second Delete() = true, want false")
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if err := store.Put(ctx, testSnapshot(key, time.Now())); err != nil {
					t.Errorf("Put(%s) error = %v", key, err)
				}
				if _, found, _ := store.Get(ctx, key); !found {
					t.Errorf("Get(%s) not found after Put", key)
				}
			}
		}(w)
	}
	wg.Wait()

	if got := store.Len(); got != writers*perWriter {
		t.Errorf("Len() = %d, want %d", got, writers*perWriter)
	}
}

func TestMemoryStoreWithTTL_Expiration(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := NewMemoryStoreWithTTL(time.Hour, 10*time.Millisecond)
	defer store.Stop()

	_ = store.Put(ctx, testSnapshot("fresh", time.Now()))
	_ = store.Put(ctx, testSnapshot("stale", time.Now().Add(-2*time.Hour)))

	if _, found, _ := store.Get(ctx, "stale"); found {
		t.Error("Get(stale) found an expired snapshot")
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d after cleanup, want 1", store.Len())
	}
	if _, found, _ := store.Get(ctx, "fresh"); !found {
		t.Error("Get(fresh) not found")
	}
}

func TestMemoryStoreWithTTL_Stop(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewMemoryStoreWithTTL(time.Minute, 0)
	store.Stop()
	store.Stop()

	NewMemoryStore().Stop()
}

func TestNewMemoryStoreWithTTL_PanicsOnZeroTTL(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewMemoryStoreWithTTL(0) did not panic")
		}
	}()
	NewMemoryStoreWithTTL(0, time.Second)
}
