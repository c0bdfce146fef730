package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/internal/browser"
	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// liveHandle counts open handles so the single-browser invariant can be checked
type liveHandle struct {
	*browser.SimulatedBrowser
	profileID string
	l         *fakeLauncher
	once      sync.Once
}

func (h *liveHandle) Close() error {
	h.once.Do(func() {
		h.l.mu.Lock()
		h.l.live--
		h.l.mu.Unlock()
	})
	return h.SimulatedBrowser.Close()
}

type fakeLauncher struct {
	mu       sync.Mutex
	live     int
	maxLive  int
	attempts map[string]int
	failing  map[string]bool
	block    chan struct{}
	entered  chan struct{}
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{attempts: map[string]int{}, failing: map[string]bool{}}
}

func (f *fakeLauncher) Launch(ctx context.Context, profileID, proxy string) (browser.Handle, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[profileID]++
	if f.failing[profileID] {
		return nil, &browser.LaunchError{ProfileID: profileID, Err: errors.New("spawn failed")}
	}

	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	sim := browser.NewSimulated("UA-"+profileID, nil)
	_ = sim.SetCookie(ctx, models.Cookie{Name: "sid", Value: profileID})
	return &liveHandle{SimulatedBrowser: sim, profileID: profileID, l: f}, nil
}

func (f *fakeLauncher) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

type savedSession struct {
	profileID string
	userAgent string
	cookies   []models.Cookie
}

type fakeStore struct {
	mu    sync.Mutex
	saves []savedSession
}

func (s *fakeStore) Save(ctx context.Context, profileID, userAgent string, cookies []models.Cookie) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, savedSession{profileID, userAgent, cookies})
	return true
}

type countingCleaner struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCleaner) ForceCleanup(ctx context.Context) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func newTestController(l *fakeLauncher, s *fakeStore, cleaner *countingCleaner) (*Controller, *[]time.Duration) {
	c := New(l, s, WithCleaner(cleaner), WithLogger(zap.NewNop()))
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func TestScenarioTwoProfiles(t *testing.T) {
	l, s, cleaner := newFakeLauncher(), &fakeStore{}, &countingCleaner{}
	c, _ := newTestController(l, s, cleaner)
	ctx := context.Background()

	runID, err := c.Reset(ctx, []models.Profile{
		{ProfileID: "p1"},
		{ProfileID: "p2", Proxy: "1.2.3.4:8080"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.Equal(t, models.QueueIdle, c.Status().State)

	res, err := c.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StepStarted, res.Kind)
	assert.Equal(t, "p1", res.Profile.ProfileID)
	assert.Equal(t, 1, res.Current)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, runID, res.RunID)
	assert.Empty(t, s.saves)

	status := c.Status()
	assert.Equal(t, models.QueueActive, status.State)
	require.NotNil(t, status.ActiveProfile)
	assert.Equal(t, "p1", status.ActiveProfile.ProfileID)
	assert.Equal(t, "simulated", status.BrowserMode)

	res, err = c.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StepStarted, res.Kind)
	assert.Equal(t, "p2", res.Profile.ProfileID)
	assert.Equal(t, "1.2.3.4:8080", res.Profile.Proxy)
	assert.Equal(t, 2, res.Current)
	require.Len(t, s.saves, 1)
	assert.Equal(t, savedSession{"p1", "UA-p1", []models.Cookie{{Name: "sid", Value: "p1"}}}, s.saves[0])

	res, err = c.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StepComplete, res.Kind)
	require.Len(t, s.saves, 2)
	assert.Equal(t, "p2", s.saves[1].profileID)

	assert.Equal(t, 1, l.maxLive)
	assert.Zero(t, l.liveCount())
	assert.Equal(t, 2, cleaner.calls)

	status = c.Status()
	assert.Equal(t, models.QueueExhausted, status.State)
	assert.Equal(t, 2, status.Cursor)
}

func TestEmptyRosterCompletesImmediately(t *testing.T) {
	l, s := newFakeLauncher(), &fakeStore{}
	c, _ := newTestController(l, s, &countingCleaner{})

	_, err := c.Reset(context.Background(), nil)
	require.NoError(t, err)

	res, err := c.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StepComplete, res.Kind)
	assert.Empty(t, l.attempts)
}

func TestPermanentLaunchFailureRetriesThreeTimes(t *testing.T) {
	l, s := newFakeLauncher(), &fakeStore{}
	l.failing["p1"] = true
	c, delays := newTestController(l, s, &countingCleaner{})

	_, err := c.Reset(context.Background(), []models.Profile{{ProfileID: "p1"}})
	require.NoError(t, err)

	res, err := c.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StepFailed, res.Kind)
	assert.Equal(t, "p1", res.Profile.ProfileID)
	assert.False(t, res.HasMoreAfterThis)
	assert.Contains(t, res.Error, "spawn failed")
	assert.Equal(t, 3, l.attempts["p1"])
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, *delays)
	assert.Equal(t, models.QueueFailed, c.Status().State)

	res, err = c.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StepComplete, res.Kind)
	assert.Equal(t, 3, l.attempts["p1"])
}

func TestFailedProfileDoesNotBlockTheNext(t *testing.T) {
	l, s := newFakeLauncher(), &fakeStore{}
	l.failing["bad"] = true
	c, _ := newTestController(l, s, &countingCleaner{})

	_, err := c.Reset(context.Background(), []models.Profile{{ProfileID: "bad"}, {ProfileID: "good"}})
	require.NoError(t, err)

	res, err := c.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StepFailed, res.Kind)
	assert.True(t, res.HasMoreAfterThis)

	res, err = c.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StepStarted, res.Kind)
	assert.Equal(t, "good", res.Profile.ProfileID)
	assert.Empty(t, s.saves)
}

func TestCursorIsMonotonic(t *testing.T) {
	l, s := newFakeLauncher(), &fakeStore{}
	l.failing["p2"] = true
	c, _ := newTestController(l, s, &countingCleaner{})

	profiles := []models.Profile{{ProfileID: "p1"}, {ProfileID: "p2"}, {ProfileID: "p3"}}
	_, err := c.Reset(context.Background(), profiles)
	require.NoError(t, err)

	last := c.Status().Cursor
	for i := 0; i < len(profiles)+2; i++ {
		_, err := c.Advance(context.Background())
		require.NoError(t, err)
		cur := c.Status().Cursor
		assert.GreaterOrEqual(t, cur, last)
		if i < len(profiles) {
			assert.Equal(t, i, cur)
		}
		last = cur
		assert.LessOrEqual(t, l.liveCount(), 1)
	}
	assert.Equal(t, len(profiles), last)
}

func TestResetClosesActiveBrowser(t *testing.T) {
	l, s := newFakeLauncher(), &fakeStore{}
	c, _ := newTestController(l, s, &countingCleaner{})
	ctx := context.Background()

	_, err := c.Reset(ctx, []models.Profile{{ProfileID: "p1"}})
	require.NoError(t, err)
	_, err = c.Advance(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, l.liveCount())

	_, err = c.Reset(ctx, []models.Profile{{ProfileID: "p9"}})
	require.NoError(t, err)
	assert.Zero(t, l.liveCount())
	require.Len(t, s.saves, 1)
	assert.Equal(t, "p1", s.saves[0].profileID)
	assert.Equal(t, -1, c.Status().Cursor)
	assert.Equal(t, []models.Profile{{ProfileID: "p9"}}, c.Profiles())
}

func TestOverlappingAdvanceIsRejected(t *testing.T) {
	l, s := newFakeLauncher(), &fakeStore{}
	l.block = make(chan struct{})
	l.entered = make(chan struct{}, 1)
	c, _ := newTestController(l, s, &countingCleaner{})

	_, err := c.Reset(context.Background(), []models.Profile{{ProfileID: "p1"}})
	require.NoError(t, err)

	done := make(chan models.StepResult)
	go func() {
		res, _ := c.Advance(context.Background())
		done <- res
	}()

	<-l.entered
	assert.Equal(t, models.QueueTransitioning, c.Status().State)

	_, err = c.Advance(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = c.Reset(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(l.block)
	res := <-done
	assert.Equal(t, models.StepStarted, res.Kind)
	assert.Equal(t, 1, l.liveCount())

	c.Shutdown(context.Background())
	assert.Zero(t, l.liveCount())
}

func TestShutdownSavesAndCleansUp(t *testing.T) {
	l, s, cleaner := newFakeLauncher(), &fakeStore{}, &countingCleaner{}
	c, _ := newTestController(l, s, cleaner)

	_, err := c.Reset(context.Background(), []models.Profile{{ProfileID: "p1"}})
	require.NoError(t, err)
	_, err = c.Advance(context.Background())
	require.NoError(t, err)

	c.Shutdown(context.Background())
	assert.Zero(t, l.liveCount())
	require.Len(t, s.saves, 1)
	assert.Equal(t, 2, cleaner.calls)

	c.Shutdown(context.Background())
	assert.Equal(t, 3, cleaner.calls)
}

// brokenHandle fails every operation
type brokenHandle struct{ closed bool }

func (b *brokenHandle) Mode() browser.Mode { return browser.ModeLocal }
func (b *brokenHandle) InjectScript(context.Context, string) error { return errors.New("gone") }
func (b *brokenHandle) Navigate(context.Context, string) error { return errors.New("gone") }
func (b *brokenHandle) SetCookie(context.Context, models.Cookie) error { return errors.New("gone") }
func (b *brokenHandle) Cookies(context.Context) ([]models.Cookie, error) { panic("target crashed") }
func (b *brokenHandle) UserAgent(context.Context) (string, error) { return "", errors.New("gone") }
func (b *brokenHandle) Close() error { b.closed = true; return errors.New("gone") }

type brokenLauncher struct{ handle *brokenHandle }

func (b *brokenLauncher) Launch(ctx context.Context, profileID, proxy string) (browser.Handle, error) {
	return b.handle, nil
}

func TestBrokenBrowserDoesNotBlockProgress(t *testing.T) {
	h := &brokenHandle{}
	s, cleaner := &fakeStore{}, &countingCleaner{}
	c := New(&brokenLauncher{handle: h}, s, WithCleaner(cleaner))

	_, err := c.Reset(context.Background(), []models.Profile{{ProfileID: "p1"}})
	require.NoError(t, err)
	_, err = c.Advance(context.Background())
	require.NoError(t, err)

	res, err := c.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StepComplete, res.Kind)
	assert.True(t, h.closed)
	assert.Empty(t, s.saves)
	assert.Equal(t, 1, cleaner.calls)
}
