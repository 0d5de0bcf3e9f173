package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waveline/waveline/internal/waerr"
	"github.com/zerodha/logf"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, logf.New(logf.Opts{})), mr
}

func TestAcquireAndRelease(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	campaignID := uuid.New()

	owner, err := s.Acquire(ctx, campaignID, "worker-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", owner.OwnerID)

	info, err := s.Check(ctx, campaignID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "worker-1", info.Owner.OwnerID)
	assert.Greater(t, info.TTLRemaining, int64(0))

	require.NoError(t, s.Release(ctx, campaignID, "worker-1", false))

	info, err = s.Check(ctx, campaignID)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestAcquireConflict(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	campaignID := uuid.New()

	_, err := s.Acquire(ctx, campaignID, "worker-1", time.Hour)
	require.NoError(t, err)

	existing, err := s.Acquire(ctx, campaignID, "worker-2", time.Hour)
	require.Error(t, err)
	assert.True(t, waerr.Is(err, waerr.KindCampaignAlreadyRunning))
	require.NotNil(t, existing)
	assert.Equal(t, "worker-1", existing.OwnerID)
}

func TestReleaseOwnerVerified(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	campaignID := uuid.New()

	_, err := s.Acquire(ctx, campaignID, "worker-1", time.Hour)
	require.NoError(t, err)

	// Wrong owner cannot release
	err = s.Release(ctx, campaignID, "worker-2", false)
	require.Error(t, err)
	assert.True(t, waerr.Is(err, waerr.KindLockError))

	// Force release skips the owner check
	require.NoError(t, s.Release(ctx, campaignID, "worker-2", true))

	info, err := s.Check(ctx, campaignID)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestExtend(t *testing.T) {
	s, mr := newTestService(t)
	ctx := context.Background()
	campaignID := uuid.New()

	_, err := s.Acquire(ctx, campaignID, "worker-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Extend(ctx, campaignID, "worker-1", time.Hour))

	err = s.Extend(ctx, campaignID, "worker-2", time.Hour)
	require.Error(t, err)

	// Lock expires after TTL, then extend fails
	mr.FastForward(2 * time.Hour)
	err = s.Extend(ctx, campaignID, "worker-1", time.Hour)
	require.Error(t, err)
}

func TestListActive(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		_, err := s.Acquire(ctx, id, "worker", time.Hour)
		require.NoError(t, err, "acquire %d", i)
	}

	locks, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, locks, 3)
}

func TestMutualExclusionStress(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	campaignID := uuid.New()

	const n = 100
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
		rejected int
	)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.Acquire(ctx, campaignID, uuid.NewString(), time.Hour)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				acquired++
			} else if waerr.Is(err, waerr.KindCampaignAlreadyRunning) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one acquire must win")
	assert.Equal(t, n-1, rejected)
}
