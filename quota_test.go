package quotaguard

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesQuotaPhrase(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"generic", errors.New("connection reset by peer"), false},
		{"current quota", errors.New("You exceeded your current quota, please check your plan"), true},
		{"upper case", errors.New("EXCEEDED YOUR CURRENT QUOTA"), true},
		{"quota value", errors.New(`{"reason":"RATE_LIMIT_EXCEEDED","metadata":{"quota_value":"50"}}`), true},
		{"free tier", errors.New("generate_content_FREE_TIER_requests limit"), true},
		{"plain 429", errors.New("429 Too Many Requests"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesQuotaPhrase(tt.err, DefaultQuotaPhrases); got != tt.want {
				t.Errorf("MatchesQuotaPhrase(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMatchesQuotaPhraseWrapped(t *testing.T) {
	err := errors.Join(errors.New("gemini call"), errors.New("exceeded your current quota"))
	assert.True(t, MatchesQuotaPhrase(err, DefaultQuotaPhrases))
}

func TestMatchesQuotaPhraseIgnoresEmptyPhrase(t *testing.T) {
	assert.False(t, MatchesQuotaPhrase(errors.New("anything"), []string{""}))
}

func TestWithQuotaPhrasesOverridesDefaults(t *testing.T) {
	g := New(WithProfile(testProfile("api", 10, time.Minute)), WithQuotaPhrases("billing limit"))
	defer g.Close()

	_, err := g.Do(context.Background(), "api", 1, errFunc(errors.New("exceeded your current quota")))
	assert.False(t, IsQuotaExceeded(err))

	_, err = g.Do(context.Background(), "api", 2, errFunc(errors.New("Billing Limit reached")))
	assert.True(t, IsQuotaExceeded(err))
}

func TestMemoryQuotaStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryQuotaStore()

	flag, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, flag.Exceeded)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, QuotaFlag{Exceeded: true, ExceededAt: at}))

	flag, err = store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, flag.Exceeded)
	assert.True(t, flag.ExceededAt.Equal(at))

	require.NoError(t, store.Clear(ctx))
	flag, _ = store.Load(ctx)
	assert.Equal(t, QuotaFlag{}, flag)
}

func TestCheckDailyQuotaResetNoFlag(t *testing.T) {
	g := New()
	defer g.Close()

	require.NoError(t, g.CheckDailyQuotaReset(context.Background()))
}

func TestCheckDailyQuotaResetCustomPeriod(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryQuotaStore()
	g := New(WithClock(clock), WithQuotaStore(store), WithQuotaResetAfter(time.Hour))
	defer g.Close()

	require.NoError(t, store.Save(context.Background(), QuotaFlag{Exceeded: true, ExceededAt: clock.Now()}))

	clock.Advance(time.Hour)
	require.NoError(t, g.CheckDailyQuotaReset(context.Background()))

	flag, _ := g.QuotaStatus(context.Background())
	assert.False(t, flag.Exceeded)
}

type failingStore struct {
	MemoryQuotaStore
	err error
}

func (s *failingStore) Load(context.Context) (QuotaFlag, error) { return QuotaFlag{}, s.err }
func (s *failingStore) Save(context.Context, QuotaFlag) error   { return s.err }

func TestQuotaStoreErrors(t *testing.T) {
	broken := errors.New("disk full")
	g := New(WithProfile(testProfile("api", 10, time.Minute)), WithQuotaStore(&failingStore{err: broken}))
	defer g.Close()

	_, err := g.Do(context.Background(), "api", nil, errFunc(errors.New("free_tier")))
	assert.True(t, IsQuotaExceeded(err), "a persistence failure must not hide the quota error")

	assert.ErrorIs(t, g.CheckDailyQuotaReset(context.Background()), broken)
}

func TestBoltQuotaStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quota.db")

	store, err := OpenBoltQuotaStore(path)
	require.NoError(t, err)

	flag, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, flag.Exceeded)
	assert.True(t, flag.ExceededAt.IsZero())

	at := time.Date(2026, 5, 4, 3, 2, 1, 500, time.UTC)
	require.NoError(t, store.Save(ctx, QuotaFlag{Exceeded: true, ExceededAt: at}))
	require.NoError(t, store.Close())

	reopened, err := OpenBoltQuotaStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	flag, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.True(t, flag.Exceeded)
	assert.True(t, flag.ExceededAt.Equal(at), "got %v", flag.ExceededAt)

	require.NoError(t, reopened.Clear(ctx))
	flag, err = reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, QuotaFlag{}, flag)
}

func TestBoltQuotaStoreWithGovernor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, err := OpenBoltQuotaStore(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	defer store.Close()

	g := New(WithClock(clock), WithProfile(testProfile("api", 10, time.Minute)), WithQuotaStore(store))
	defer g.Close()

	_, err = g.Do(context.Background(), "api", nil, errFunc(errors.New("quota_value: 0")))
	require.ErrorIs(t, err, ErrDailyQuotaExceeded)

	flag, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, flag.Exceeded)

	clock.Advance(DefaultQuotaResetAfter)
	require.NoError(t, g.CheckDailyQuotaReset(context.Background()))

	flag, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, flag.Exceeded)
}

func TestOpenBoltQuotaStoreBadPath(t *testing.T) {
	_, err := OpenBoltQuotaStore(filepath.Join(t.TempDir(), "missing", "dir", "quota.db"))
	assert.Error(t, err)
}
