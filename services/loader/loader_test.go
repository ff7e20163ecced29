package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"reeltrack/models"
)

func records(ids ...int64) []models.WatchedMovieRecord {
	out := make([]models.WatchedMovieRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.WatchedMovieRecord{TMDBID: id})
	}
	return out
}

func detailsFor(_ context.Context, rec models.WatchedMovieRecord) (*models.MovieDetails, error) {
	return &models.MovieDetails{TMDBID: rec.TMDBID}, nil
}

func tmdbIDs(items []models.EnrichedWatchedMovie) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.TMDBID)
	}
	return out
}

func TestLoadEnrichesAndIsolatesFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(records(1, 2), nil)
	fetcher.EXPECT().FetchDetails(gomock.Any(), models.WatchedMovieRecord{TMDBID: 1}).
		Return(&models.MovieDetails{Title: "X"}, nil)
	fetcher.EXPECT().FetchDetails(gomock.Any(), models.WatchedMovieRecord{TMDBID: 2}).
		Return(nil, errors.New("tmdb down"))

	l := New(source, fetcher, "alice", Options{})
	defer l.Close()

	state, err := l.Load(context.Background(), "alice")
	require.NoError(t, err)

	require.Len(t, state.Items, 2)
	assert.Equal(t, int64(1), state.Items[0].TMDBID)
	require.NotNil(t, state.Items[0].FullDetails)
	assert.Equal(t, "X", state.Items[0].FullDetails.Title)
	assert.Equal(t, int64(2), state.Items[1].TMDBID)
	assert.Nil(t, state.Items[1].FullDetails)
	assert.Nil(t, state.Error)
	assert.False(t, state.Loading)
	assert.Equal(t, "alice", state.Username)
	assert.Equal(t, state, l.State())
}

func TestLoadPreservesBaseOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	ids := []int64{5, 4, 3, 2, 1}
	source.EXPECT().WatchedMovies(gomock.Any(), "").Return(records(ids...), nil)
	// Earlier records answer last.
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, rec models.WatchedMovieRecord) (*models.MovieDetails, error) {
			time.Sleep(time.Duration(rec.TMDBID) * 5 * time.Millisecond)
			return detailsFor(ctx, rec)
		}).Times(len(ids))

	l := New(source, fetcher, "", Options{})
	defer l.Close()

	state, err := l.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, ids, tmdbIDs(state.Items))
	for _, it := range state.Items {
		require.NotNil(t, it.FullDetails)
		assert.Equal(t, it.TMDBID, it.FullDetails.TMDBID)
	}
}

func TestLoadBaseFailureKeepsItems(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	gomock.InOrder(
		source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(records(1), nil),
		source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(nil, errors.New("connection refused")),
	)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).DoAndReturn(detailsFor).Times(1)

	l := New(source, fetcher, "alice", Options{})
	defer l.Close()

	first, err := l.Load(context.Background(), "alice")
	require.NoError(t, err)

	second, err := l.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Items, second.Items)
	require.NotNil(t, second.Error)
	assert.Equal(t, LoadErrorMessage, *second.Error)
	assert.False(t, second.Loading)
}

func TestRefreshClearsErrorWhileLoading(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)
	l := New(source, fetcher, "alice", Options{})
	defer l.Close()

	var during models.LoadState
	gomock.InOrder(
		source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(nil, errors.New("boom")),
		source.EXPECT().WatchedMovies(gomock.Any(), "alice").
			DoAndReturn(func(context.Context, string) ([]models.WatchedMovieRecord, error) {
				during = l.State()
				return records(7), nil
			}),
	)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).DoAndReturn(detailsFor)

	failed, err := l.Activate(context.Background())
	require.NoError(t, err)
	require.True(t, failed.HasError())

	refreshed, err := l.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, during.Loading)
	assert.Nil(t, during.Error)
	assert.Nil(t, refreshed.Error)
	assert.False(t, refreshed.Loading)
	assert.Equal(t, []int64{7}, tmdbIDs(refreshed.Items))
	assert.Greater(t, refreshed.Generation, failed.Generation)
}

func TestSetUsernameTriggersLoadOnChange(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	source.EXPECT().WatchedMovies(gomock.Any(), "a").Return(records(1), nil).Times(1)
	source.EXPECT().WatchedMovies(gomock.Any(), "b").Return(records(2, 3), nil).Times(1)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).DoAndReturn(detailsFor).AnyTimes()

	l := New(source, fetcher, "a", Options{})
	defer l.Close()

	_, err := l.Activate(context.Background())
	require.NoError(t, err)

	// second activation is a no-op
	_, err = l.Activate(context.Background())
	require.NoError(t, err)

	state, started, err := l.SetUsername(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, []int64{2, 3}, tmdbIDs(state.Items))
	assert.Equal(t, "b", state.Username)

	_, started, err = l.SetUsername(context.Background(), " b ")
	require.NoError(t, err)
	assert.False(t, started)
}

func TestSetUsernameBeforeActivationDefersLoad(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	source.EXPECT().WatchedMovies(gomock.Any(), "b").Return(records(), nil).Times(1)

	l := New(source, fetcher, "a", Options{})
	defer l.Close()

	state, started, err := l.SetUsername(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, "b", state.Username)

	state, err = l.Activate(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, state.Items)
	assert.Empty(t, state.Items)
}

func TestOverlappingLoadsLatestWins(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	release := make(chan struct{})
	var firstCtx context.Context
	source.EXPECT().WatchedMovies(gomock.Any(), "alice").
		DoAndReturn(func(ctx context.Context, _ string) ([]models.WatchedMovieRecord, error) {
			firstCtx = ctx
			<-release
			return records(1), nil
		})
	source.EXPECT().WatchedMovies(gomock.Any(), "bob").Return(records(2), nil)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).DoAndReturn(detailsFor).AnyTimes()

	l := New(source, fetcher, "alice", Options{})
	defer l.Close()

	type result struct {
		state models.LoadState
		err   error
	}
	firstDone := make(chan result, 1)
	go func() {
		state, err := l.Load(context.Background(), "alice")
		firstDone <- result{state, err}
	}()

	require.Eventually(t, func() bool { return l.State().Generation == 1 }, time.Second, time.Millisecond)

	second, err := l.Load(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, tmdbIDs(second.Items))

	close(release)
	first := <-firstDone
	assert.ErrorIs(t, first.err, ErrSuperseded)
	assert.ErrorIs(t, firstCtx.Err(), context.Canceled)

	final := l.State()
	assert.Equal(t, []int64{2}, tmdbIDs(final.Items))
	assert.Equal(t, "bob", final.Username)
	assert.False(t, final.Loading)
}

func TestCallerCancelDuringEnrichmentKeepsLastResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	var stall atomic.Bool
	source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(records(1, 2), nil).Times(2)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, rec models.WatchedMovieRecord) (*models.MovieDetails, error) {
			if stall.Load() {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return detailsFor(ctx, rec)
		}).Times(4)

	l := New(source, fetcher, "alice", Options{})
	defer l.Close()

	first, err := l.Load(context.Background(), "alice")
	require.NoError(t, err)

	stall.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	state, err := l.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for _, got := range []models.LoadState{state, l.State()} {
		assert.False(t, got.Loading)
		assert.Nil(t, got.Error)
		require.Len(t, got.Items, 2)
		assert.NotNil(t, got.Items[0].FullDetails)
		assert.NotNil(t, got.Items[1].FullDetails)
		assert.Equal(t, first.UpdatedAt, got.UpdatedAt)
	}
}

func TestCallerCancelDuringBaseFetchReportsNoError(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	gomock.InOrder(
		source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(records(3), nil),
		source.EXPECT().WatchedMovies(gomock.Any(), "alice").
			DoAndReturn(func(ctx context.Context, _ string) ([]models.WatchedMovieRecord, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
	)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).DoAndReturn(detailsFor)

	l := New(source, fetcher, "alice", Options{})
	defer l.Close()

	_, err := l.Activate(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state, err := l.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, state.HasError())
	assert.False(t, state.Loading)
	assert.Equal(t, []int64{3}, tmdbIDs(state.Items))
}

func TestRefreshFollowsConcurrentUsernameChange(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)
	source.EXPECT().WatchedMovies(gomock.Any(), gomock.Any()).Return(records(), nil).AnyTimes()

	l := New(source, fetcher, "a", Options{})
	defer l.Close()
	_, err := l.Activate(context.Background())
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			l.Refresh(context.Background())
		}
	}()

	time.Sleep(2 * time.Millisecond)
	l.SetUsername(context.Background(), "b")
	time.Sleep(2 * time.Millisecond)
	close(stop)
	wg.Wait()

	final := l.State()
	assert.Equal(t, "b", l.Username())
	assert.Equal(t, "b", final.Username)
	assert.False(t, final.Loading)
}

func TestSetUsernameDuringActivationIsNotLost(t *testing.T) {
	for i := 0; i < 50; i++ {
		ctrl := gomock.NewController(t)
		source := NewMockWatchedSource(ctrl)
		fetcher := NewMockDetailFetcher(ctrl)
		source.EXPECT().WatchedMovies(gomock.Any(), gomock.Any()).Return(records(), nil).AnyTimes()

		l := New(source, fetcher, "a", Options{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Activate(context.Background())
		}()
		go func() {
			defer wg.Done()
			l.SetUsername(context.Background(), "b")
		}()
		wg.Wait()

		final := l.State()
		require.Equal(t, "b", l.Username(), "iteration %d", i)
		require.Equal(t, "b", final.Username, "iteration %d", i)
		require.False(t, final.Loading, "iteration %d", i)
		l.Close()
	}
}

func TestCloseDuringCycleClearsLoading(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	started := make(chan struct{})
	source.EXPECT().WatchedMovies(gomock.Any(), "alice").
		DoAndReturn(func(ctx context.Context, _ string) ([]models.WatchedMovieRecord, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	l := New(source, fetcher, "alice", Options{})
	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), "alice")
		done <- err
	}()
	<-started
	require.True(t, l.State().Loading)

	l.Close()
	assert.ErrorIs(t, <-done, ErrClosed)

	final := l.State()
	assert.False(t, final.Loading)
	assert.False(t, final.HasError())
}

func TestDetailPanicIsContained(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(records(1, 2), nil)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, rec models.WatchedMovieRecord) (*models.MovieDetails, error) {
			if rec.TMDBID == 2 {
				panic("bad payload")
			}
			return detailsFor(ctx, rec)
		}).Times(2)

	l := New(source, fetcher, "alice", Options{})
	defer l.Close()

	state, err := l.Load(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, state.Items, 2)
	assert.NotNil(t, state.Items[0].FullDetails)
	assert.Nil(t, state.Items[1].FullDetails)
}

func TestMaxConcurrentDetails(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	var inFlight, peak int32
	source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(records(1, 2, 3, 4, 5, 6), nil)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, rec models.WatchedMovieRecord) (*models.MovieDetails, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return detailsFor(ctx, rec)
		}).Times(6)

	l := New(source, fetcher, "alice", Options{MaxConcurrentDetails: 2})
	defer l.Close()

	state, err := l.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, state.Items, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSubscribeReceivesCommittedState(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	source.EXPECT().WatchedMovies(gomock.Any(), "alice").Return(records(1), nil)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).DoAndReturn(detailsFor)

	l := New(source, fetcher, "alice", Options{})
	updates, unsubscribe := l.Subscribe()

	_, err := l.Load(context.Background(), "alice")
	require.NoError(t, err)

	latest := <-updates
	assert.False(t, latest.Loading)
	assert.Equal(t, []int64{1}, tmdbIDs(latest.Items))

	unsubscribe()
	unsubscribe()
	_, open := <-updates
	assert.False(t, open)

	l.Close()
}

func TestCloseStopsLoader(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	started := make(chan struct{})
	source.EXPECT().WatchedMovies(gomock.Any(), "alice").
		DoAndReturn(func(ctx context.Context, _ string) ([]models.WatchedMovieRecord, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	l := New(source, fetcher, "alice", Options{})
	updates, _ := l.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	var bgErr error
	l.Go(func(ctx context.Context) {
		defer wg.Done()
		_, bgErr = l.Activate(ctx)
	})
	<-started

	l.Close()
	wg.Wait()
	assert.ErrorIs(t, bgErr, ErrClosed)
	assert.False(t, l.State().Loading)

	for range updates {
	}

	_, err := l.Load(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.Activate(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	ran := false
	l.Go(func(context.Context) { ran = true })
	assert.False(t, ran)

	l.Close()
}

func TestLoadOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockWatchedSource(ctrl)
	fetcher := NewMockDetailFetcher(ctrl)

	source.EXPECT().WatchedMovies(gomock.Any(), "carol").Return(records(9), nil)
	fetcher.EXPECT().FetchDetails(gomock.Any(), gomock.Any()).DoAndReturn(detailsFor)

	state, err := LoadOnce(context.Background(), source, fetcher, "carol", Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, tmdbIDs(state.Items))
	assert.False(t, state.Loading)
}
