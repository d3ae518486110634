package paste

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burnbin/internal/metrics"
	"burnbin/internal/storage"
	"burnbin/internal/storage/boltstore"
	"burnbin/internal/storage/memstore"
)

var stableTime = time.Date(2025, 4, 10, 8, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func newTestService(t *testing.T, store storage.Store) *Service {
	t.Helper()
	svc, err := New(Config{
		Store: store,
		Now:   func() time.Time { return stableTime },
	})
	require.NoError(t, err)
	return svc
}

func TestCreateAndFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memstore.New())

	for _, content := range []string{"hello", " ", "multi\nline\ttext", "ünïcødé ✓"} {
		created, err := svc.Create(ctx, CreateParams{Content: content})
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		require.Equal(t, "/p/"+created.ID, created.URL)

		view, err := svc.Fetch(ctx, created.ID, stableTime)
		require.NoError(t, err)
		require.Equal(t, content, view.Content)
		require.Nil(t, view.RemainingViews)
		require.True(t, view.ExpiresAt.IsZero())
		require.Equal(t, 1, view.ViewCount)
	}
}

func TestCreateRejectsEmptyContent(t *testing.T) {
	store := memstore.New()
	svc := newTestService(t, store)

	_, err := svc.Create(context.Background(), CreateParams{})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Create(context.Background(), CreateParams{Content: "", MaxViews: intPtr(3)})
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, store.Len())
}

func TestCreateAssignsLimits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)

	created, err := svc.Create(ctx, CreateParams{Content: "x", TTL: 90 * time.Second, MaxViews: intPtr(0)})
	require.NoError(t, err)

	stored, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, stored.CreatedAt.Equal(stableTime))
	require.True(t, stored.ExpiresAt.Equal(stableTime.Add(90*time.Second)))
	require.Equal(t, 0, *stored.MaxViews)
	require.Zero(t, stored.ViewCount)

	created, err = svc.Create(ctx, CreateParams{Content: "y", TTL: -time.Second, MaxViews: intPtr(-4)})
	require.NoError(t, err)
	stored, err = store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, stored.HasExpiration())
	require.False(t, stored.HasViewLimit())
}

func TestMaxViewsZeroIsImmediatelyExpired(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memstore.New())

	created, err := svc.Create(ctx, CreateParams{Content: "never shown", MaxViews: intPtr(0)})
	require.NoError(t, err)

	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrExpired)
}

func TestViewLimit(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)

	created, err := svc.Create(ctx, CreateParams{Content: "twice", MaxViews: intPtr(2)})
	require.NoError(t, err)

	view, err := svc.Fetch(ctx, created.ID, stableTime)
	require.NoError(t, err)
	require.Equal(t, 1, *view.RemainingViews)

	view, err = svc.Fetch(ctx, created.ID, stableTime)
	require.NoError(t, err)
	require.Equal(t, 0, *view.RemainingViews)

	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrExpired)
	require.ErrorIs(t, err, ErrUnavailable)
	reason, ok := ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, ReasonViews, reason)

	stored, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.ViewCount)
}

func TestTTLBoundaries(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memstore.New())

	created, err := svc.Create(ctx, CreateParams{Content: "short lived", TTL: 10 * time.Second, MaxViews: intPtr(100)})
	require.NoError(t, err)

	view, err := svc.Fetch(ctx, created.ID, stableTime.Add(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, "short lived", view.Content)
	require.True(t, view.ExpiresAt.Equal(stableTime.Add(10*time.Second)))

	_, err = svc.Fetch(ctx, created.ID, stableTime.Add(11*time.Second))
	require.ErrorIs(t, err, ErrExpired)
	reason, _ := ReasonOf(err)
	require.Equal(t, ReasonTTL, reason)
}

func TestTTLExpiresExactlyAtDeadline(t *testing.T) {
	ctx := context.Background()
	svc, err := New(Config{Store: memstore.New(), Now: func() time.Time { return stableTime }, Tombstones: -1})
	require.NoError(t, err)

	created, err := svc.Create(ctx, CreateParams{Content: "edge", TTL: 10 * time.Second})
	require.NoError(t, err)

	_, err = svc.Fetch(ctx, created.ID, stableTime.Add(10*time.Second-time.Nanosecond))
	require.NoError(t, err)
	_, err = svc.Fetch(ctx, created.ID, stableTime.Add(10*time.Second))
	require.ErrorIs(t, err, ErrExpired)
}

func TestExpiredFetchDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc, err := New(Config{Store: store, Now: func() time.Time { return stableTime }, Tombstones: -1})
	require.NoError(t, err)

	created, err := svc.Create(ctx, CreateParams{Content: "ttl", TTL: time.Second, MaxViews: intPtr(5)})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.Fetch(ctx, created.ID, stableTime.Add(time.Minute))
		require.ErrorIs(t, err, ErrExpired)
	}
	stored, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Zero(t, stored.ViewCount)
}

func TestFailureIsPermanent(t *testing.T) {
	ctx := context.Background()
	for _, tombstones := range []int{0, -1} {
		svc, err := New(Config{Store: memstore.New(), Now: func() time.Time { return stableTime }, Tombstones: tombstones})
		require.NoError(t, err)

		once, err := svc.Create(ctx, CreateParams{Content: "once", MaxViews: intPtr(1)})
		require.NoError(t, err)
		_, err = svc.Fetch(ctx, once.ID, stableTime)
		require.NoError(t, err)

		timed, err := svc.Create(ctx, CreateParams{Content: "timed", TTL: time.Second})
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err = svc.Fetch(ctx, once.ID, stableTime)
			require.ErrorIs(t, err, ErrExpired)
			_, err = svc.Fetch(ctx, timed.ID, stableTime.Add(time.Duration(i+1)*time.Hour))
			require.ErrorIs(t, err, ErrExpired)
		}
	}
}

func TestFetchUnknownID(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)

	for i := 0; i < 3; i++ {
		_, err := svc.Fetch(ctx, "does-not-exist", stableTime)
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, err, ErrUnavailable)
		require.NotErrorIs(t, err, ErrExpired)
	}
	require.Zero(t, store.Len())

	_, err := svc.Inspect(ctx, "does-not-exist", stableTime)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInspectDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memstore.New())

	created, err := svc.Create(ctx, CreateParams{Content: "peek", MaxViews: intPtr(1)})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		meta, err := svc.Inspect(ctx, created.ID, stableTime)
		require.NoError(t, err)
		require.Equal(t, 1, *meta.RemainingViews)
	}

	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.NoError(t, err)
	_, err = svc.Inspect(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrExpired)
}

func TestEndToEndSingleView(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memstore.New())

	created, err := svc.Create(ctx, CreateParams{Content: "hello", MaxViews: intPtr(1)})
	require.NoError(t, err)
	require.Equal(t, PathFor(created.ID), created.URL)

	view, err := svc.Fetch(ctx, created.ID, stableTime)
	require.NoError(t, err)
	require.Equal(t, "hello", view.Content)
	require.Equal(t, 0, *view.RemainingViews)

	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrExpired)
}

// slowStore widens the window between load and save so racing fetches
// interleave as much as possible.
type slowStore struct {
	storage.Store
	delay time.Duration
}

func (s *slowStore) Get(ctx context.Context, id string) (*storage.Paste, error) {
	p, err := s.Store.Get(ctx, id)
	time.Sleep(s.delay)
	return p, err
}

func TestConcurrentFetchNeverOvercounts(t *testing.T) {
	const (
		limit   = 7
		callers = 60
	)
	backends := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store {
			return &slowStore{Store: memstore.New(), delay: 200 * time.Microsecond}
		},
		"bolt": func(t *testing.T) storage.Store {
			s, err := boltstore.Open(filepath.Join(t.TempDir(), "race.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			svc, err := New(Config{Store: store, Now: func() time.Time { return stableTime }, Tombstones: -1})
			require.NoError(t, err)

			created, err := svc.Create(ctx, CreateParams{Content: "race", MaxViews: intPtr(limit)})
			require.NoError(t, err)

			var (
				wg        sync.WaitGroup
				ok        int64
				expired   int64
				other     int64
				remaining sync.Map
				start     = make(chan struct{})
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					view, err := svc.Fetch(ctx, created.ID, stableTime)
					switch {
					case err == nil:
						atomic.AddInt64(&ok, 1)
						if _, dup := remaining.LoadOrStore(*view.RemainingViews, true); dup {
							atomic.AddInt64(&other, 1)
						}
					case errors.Is(err, ErrExpired):
						atomic.AddInt64(&expired, 1)
					default:
						atomic.AddInt64(&other, 1)
					}
				}()
			}
			close(start)
			wg.Wait()

			require.EqualValues(t, limit, ok)
			require.EqualValues(t, callers-limit, expired)
			require.Zero(t, other, "unexpected errors or duplicate remaining counts")

			stored, err := store.Get(ctx, created.ID)
			require.NoError(t, err)
			require.Equal(t, limit, stored.ViewCount)
		})
	}
}

func TestConcurrentFetchLastViewBoundary(t *testing.T) {
	ctx := context.Background()
	store := &slowStore{Store: memstore.New(), delay: time.Millisecond}
	svc, err := New(Config{Store: store, Now: func() time.Time { return stableTime }, Tombstones: -1})
	require.NoError(t, err)

	created, err := svc.Create(ctx, CreateParams{Content: "last", MaxViews: intPtr(3)})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := svc.Fetch(ctx, created.ID, stableTime)
		require.NoError(t, err)
	}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.Fetch(ctx, created.ID, stableTime)
			results <- err
		}()
	}
	first, second := <-results, <-results
	require.True(t, (first == nil) != (second == nil), "exactly one fetch may win: %v / %v", first, second)
	if first != nil {
		require.ErrorIs(t, first, ErrExpired)
	} else {
		require.ErrorIs(t, second, ErrExpired)
	}
}

func TestFetchDifferentIDsInParallel(t *testing.T) {
	ctx := context.Background()
	store := &slowStore{Store: memstore.New(), delay: 20 * time.Millisecond}
	svc := newTestService(t, store)

	ids := make([]string, 8)
	for i := range ids {
		created, err := svc.Create(ctx, CreateParams{Content: "p"})
		require.NoError(t, err)
		ids[i] = created.ID
	}

	began := time.Now()
	var wg sync.WaitGroup
	for _, pid := range ids {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			_, err := svc.Fetch(ctx, pid, stableTime)
			assert.NoError(t, err)
		}(pid)
	}
	wg.Wait()
	// Serialized fetches would take at least len(ids) * delay.
	require.Less(t, time.Since(began), time.Duration(len(ids))*20*time.Millisecond)
}

type failingStore struct {
	storage.Store
	failGet  bool
	failSave bool
}

var errDiskOnFire = errors.New("disk on fire")

func (f *failingStore) Get(ctx context.Context, id string) (*storage.Paste, error) {
	if f.failGet {
		return nil, errDiskOnFire
	}
	return f.Store.Get(ctx, id)
}

func (f *failingStore) Save(ctx context.Context, p *storage.Paste) error {
	if f.failSave {
		return errDiskOnFire
	}
	return f.Store.Save(ctx, p)
}

func TestStorageFailuresSurface(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	store := &failingStore{Store: inner}
	svc := newTestService(t, store)

	created, err := svc.Create(ctx, CreateParams{Content: "fragile", MaxViews: intPtr(2)})
	require.NoError(t, err)

	store.failSave = true
	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, errDiskOnFire)
	require.NotErrorIs(t, err, ErrUnavailable)

	stored, err := inner.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Zero(t, stored.ViewCount, "failed save must not consume a view")

	_, err = svc.Create(ctx, CreateParams{Content: "nope"})
	require.ErrorIs(t, err, ErrStorage)

	store.failSave = false
	store.failGet = true
	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrStorage)

	store.failGet = false
	view, err := svc.Fetch(ctx, created.ID, stableTime)
	require.NoError(t, err)
	require.Equal(t, 1, *view.RemainingViews)
}

// collidingStore reports the first n lookups as taken.
type collidingStore struct {
	storage.Store
	taken int32
}

func (c *collidingStore) Get(ctx context.Context, id string) (*storage.Paste, error) {
	if atomic.AddInt32(&c.taken, -1) >= 0 {
		return &storage.Paste{ID: id}, nil
	}
	return c.Store.Get(ctx, id)
}

func TestCreateRetriesOnCollision(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(t, &collidingStore{Store: memstore.New(), taken: maxIDAttempts - 1})
	created, err := svc.Create(ctx, CreateParams{Content: "lucky"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	svc = newTestService(t, &collidingStore{Store: memstore.New(), taken: maxIDAttempts})
	_, err = svc.Create(ctx, CreateParams{Content: "unlucky"})
	require.ErrorIs(t, err, ErrStorage)
}

func TestTombstoneShortCircuitsStore(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	store := &failingStore{Store: inner}
	svc := newTestService(t, store)

	created, err := svc.Create(ctx, CreateParams{Content: "gone", MaxViews: intPtr(1)})
	require.NoError(t, err)
	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.NoError(t, err)

	// Once exhausted the id is answered without a store read.
	store.failGet = true
	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrExpired)
}

func TestInspectDoesNotCountRejectedFetches(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memstore.New())

	created, err := svc.Create(ctx, CreateParams{Content: "qr", MaxViews: intPtr(0)})
	require.NoError(t, err)

	rejected := metrics.FetchRejected.WithLabelValues(string(ReasonViews))
	before := testutil.ToFloat64(rejected)

	_, err = svc.Inspect(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrExpired)
	_, err = svc.Inspect(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, before, testutil.ToFloat64(rejected))

	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, before+1, testutil.ToFloat64(rejected))
}

func TestClaimSkipsTombstonedID(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(t, store)

	created, err := svc.Create(ctx, CreateParams{Content: "once", MaxViews: intPtr(1)})
	require.NoError(t, err)
	_, err = svc.Fetch(ctx, created.ID, stableTime)
	require.NoError(t, err)

	removed, err := store.DeleteExpired(ctx, stableTime)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	fresh := &storage.Paste{Content: "reborn", CreatedAt: stableTime}
	saved, err := svc.claim(ctx, created.ID, fresh)
	require.NoError(t, err)
	require.False(t, saved, "purged but tombstoned id must count as taken")
	require.Zero(t, store.Len())

	saved, err = svc.claim(ctx, "never-used", fresh)
	require.NoError(t, err)
	require.True(t, saved)
}
