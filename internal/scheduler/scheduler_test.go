package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spyglass/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchResult struct {
	data []byte
	err  error
}

// fetchReq is one in-flight fake fetch; the test decides when and how it
// settles by sending on resp.
type fetchReq struct {
	sessionID string
	token     string
	resp      chan fetchResult
}

type fakeFetcher struct {
	reqs chan fetchReq
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{reqs: make(chan fetchReq, 16)}
}

func (f *fakeFetcher) FetchCapture(_ context.Context, sessionID, token string) ([]byte, error) {
	req := fetchReq{sessionID: sessionID, token: token, resp: make(chan fetchResult, 1)}
	f.reqs <- req
	res := <-req.resp
	return res.data, res.err
}

func (f *fakeFetcher) expectFetch(t *testing.T) fetchReq {
	t.Helper()
	select {
	case r := <-f.reqs:
		return r
	case <-time.After(time.Second):
		t.Fatal("expected a capture fetch, got none")
		return fetchReq{}
	}
}

func (f *fakeFetcher) expectNoFetch(t *testing.T) {
	t.Helper()
	select {
	case r := <-f.reqs:
		t.Fatalf("unexpected capture fetch (token %s)", r.token)
	case <-time.After(50 * time.Millisecond):
	}
}

type recorder struct {
	mu       sync.Mutex
	frames   []*types.Frame
	statuses []types.Status
}

func (r *recorder) OnFrame(f *types.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) OnStatus(s types.Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) statusCount(want types.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.statuses {
		if s == want {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestScheduler uses an hour-long period so the internal ticker never
// fires during a test; ticks are driven explicitly.
func newTestScheduler(f Fetcher, rec *recorder, timeout time.Duration) *Scheduler {
	return New(Config{
		Fetch:    f,
		Period:   time.Hour,
		Timeout:  timeout,
		OnFrame:  rec.OnFrame,
		OnStatus: rec.OnStatus,
	})
}

func TestTickFetchesAndPublishesFrame(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	s := newTestScheduler(f, rec, time.Hour)
	s.Start("abc123")
	defer s.Stop()

	s.Tick()
	req := f.expectFetch(t)
	assert.Equal(t, "abc123", req.sessionID)
	assert.NotEmpty(t, req.token)

	req.resp <- fetchResult{data: []byte("img-1")}
	require.Eventually(t, func() bool { return rec.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.statusCount(types.StatusIdle))
	assert.False(t, rec.frames[0].FetchedAt.IsZero())
}

func TestNoOverlappingFetches(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	s := newTestScheduler(f, rec, time.Hour)
	s.Start("abc123")
	defer s.Stop()

	s.Tick()
	req1 := f.expectFetch(t)

	// ticks while the first fetch is within its grace window do nothing
	s.Tick()
	s.Tick()
	f.expectNoFetch(t)

	req1.resp <- fetchResult{data: []byte("img")}
	require.Eventually(t, func() bool { return rec.frameCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Tick()
	req2 := f.expectFetch(t)
	assert.NotEqual(t, req1.token, req2.token)
}

func TestTimeoutFreesAttemptAndNextTickRetries(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	s := newTestScheduler(f, rec, 50*time.Millisecond)
	s.Start("abc123")
	defer s.Stop()

	s.Tick()
	req1 := f.expectFetch(t)

	// the fetch hangs past the timeout; the attempt is written off
	require.Eventually(t, func() bool { return rec.statusCount(types.StatusTimeout) == 1 }, time.Second, 5*time.Millisecond)

	// next tick issues a fresh fetch with a new cache-bust token
	s.Tick()
	req2 := f.expectFetch(t)
	assert.NotEqual(t, req1.token, req2.token)

	// the late success of the timed-out attempt must change nothing
	req1.resp <- fetchResult{data: []byte("stale")}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.frameCount())
	assert.Equal(t, 0, rec.statusCount(types.StatusIdle))

	// the live attempt still works
	req2.resp <- fetchResult{data: []byte("fresh")}
	require.Eventually(t, func() bool { return rec.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("fresh"), rec.frames[0].Data)
}

func TestTimeoutEmittedOncePerAttempt(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	s := newTestScheduler(f, rec, 30*time.Millisecond)
	s.Start("abc123")
	defer s.Stop()

	s.Tick()
	f.expectFetch(t)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, rec.statusCount(types.StatusTimeout))
}

func TestFetchErrorRecoversOnNextTick(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	s := newTestScheduler(f, rec, time.Hour)
	s.Start("abc123")
	defer s.Stop()

	s.Tick()
	req := f.expectFetch(t)
	req.resp <- fetchResult{err: errors.New("connection refused")}

	require.Eventually(t, func() bool { return rec.statusCount(types.StatusError) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.frameCount())

	// the failure freed the attempt; the next tick fetches again
	s.Tick()
	f.expectFetch(t)
}

func TestStopQuiescesPolling(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	s := newTestScheduler(f, rec, time.Hour)
	s.Start("abc123")

	s.Tick()
	req := f.expectFetch(t)

	s.Stop()

	s.Tick()
	s.Tick()
	s.Tick()
	f.expectNoFetch(t)

	// a fetch in flight at stop time is abandoned, not resurrected
	req.resp <- fetchResult{data: []byte("late")}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.frameCount())
}

func TestStalledAttemptReclaimedByTick(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	s := newTestScheduler(f, rec, time.Hour)
	clk := &fakeClock{t: time.Now()}
	s.now = clk.Now
	s.Start("abc123")
	defer s.Stop()

	s.Tick()
	req1 := f.expectFetch(t)

	// the grace window elapses but the armed timer (1h) has not fired:
	// the tick path itself must reclaim the attempt and retry
	clk.Advance(2 * time.Hour)
	s.Tick()
	req2 := f.expectFetch(t)
	assert.NotEqual(t, req1.token, req2.token)
	assert.Equal(t, 1, rec.statusCount(types.StatusTimeout))
}

func TestFramePublicationSerialized(t *testing.T) {
	f := newFakeFetcher()

	var mu sync.Mutex
	var published []string
	entered := make(chan struct{})
	onFrame := func(fr *types.Frame) {
		// a slow consumer (e.g. a disk write) must hold off the next
		// attempt, not be overtaken by it
		if string(fr.Data) == "old" {
			close(entered)
			time.Sleep(150 * time.Millisecond)
		}
		mu.Lock()
		published = append(published, string(fr.Data))
		mu.Unlock()
	}

	s := New(Config{Fetch: f, Period: time.Hour, Timeout: time.Hour, OnFrame: onFrame})
	s.Start("abc123")
	defer s.Stop()

	s.Tick()
	req1 := f.expectFetch(t)
	req1.resp <- fetchResult{data: []byte("old")}
	<-entered

	// tick while the first publish is still inside the consumer; it must
	// not issue the next fetch until that delivery completes
	s.Tick()
	req2 := f.expectFetch(t)
	req2.resp <- fetchResult{data: []byte("new")}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old", "new"}, published)
}

func TestStartStopIdempotence(t *testing.T) {
	f := newFakeFetcher()
	rec := &recorder{}
	s := newTestScheduler(f, rec, time.Hour)

	s.Stop() // not running: no-op

	s.Start("abc123")
	s.Start("abc123") // already running: no-op
	s.Stop()
	s.Stop()

	s.Tick()
	f.expectNoFetch(t)
}
