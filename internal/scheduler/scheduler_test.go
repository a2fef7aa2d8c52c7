package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/estate-session/internal/metrics"
	"github.com/pribylovaa/estate-session/internal/pkg/clock"
	"github.com/pribylovaa/estate-session/internal/storage/memory"
	"github.com/pribylovaa/estate-session/internal/tokens"
	"github.com/pribylovaa/estate-session/internal/tokens/tokenstest"
	"github.com/pribylovaa/estate-session/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const (
	interval = 30 * time.Minute
	wait     = time.Second
	tick     = 5 * time.Millisecond
)

var epoch = time.Unix(1_700_000_000, 0)

type flagAuth struct{ atomic.Bool }

func (a *flagAuth) IsAuthenticated() bool { return a.Load() }

type flagExpiry struct{ atomic.Bool }

func (e *flagExpiry) IsExpiringSoon() bool { return e.Load() }

func passes(m *metrics.Metrics, outcome string) float64 {
	return testutil.ToFloat64(m.SchedulerPassesTotal.WithLabelValues(outcome))
}

func totalPasses(m *metrics.Metrics) float64 {
	return passes(m, passSkipped) + passes(m, passRefreshed) + passes(m, passFailed) + passes(m, passStopped)
}

type fixture struct {
	s       *Scheduler
	fc      *clock.FakeClock
	m       *metrics.Metrics
	auth    *flagAuth
	expiry  *flagExpiry
	refresh *mocks.MockRefresher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		fc:      clock.Fake(epoch),
		m:       metrics.New(nil),
		auth:    &flagAuth{},
		expiry:  &flagExpiry{},
		refresh: mocks.NewMockRefresher(gomock.NewController(t)),
	}
	f.auth.Store(true)
	f.s = New(f.auth, f.expiry, f.refresh, Options{Interval: interval, Clock: f.fc, Metrics: f.m})
	t.Cleanup(f.s.Stop)

	return f
}

// Токен истекает через 10 минут: первый же проход вызывает refresh ровно один раз.
func TestScheduler_ExpiringToken_TriggersOneRefresh(t *testing.T) {
	fc := clock.Fake(epoch)
	m := metrics.New(nil)
	store := tokens.New(memory.New(), tokens.Options{Clock: fc})
	require.NoError(t, store.Set(context.Background(), tokenstest.Token(t, epoch.Add(10*time.Minute)), "R1"))

	require.True(t, store.IsExpiringSoon())
	require.False(t, store.IsExpired())

	var calls atomic.Int32
	refresher := mocks.NewMockRefresher(gomock.NewController(t))
	refresher.EXPECT().Refresh(gomock.Any()).
		DoAndReturn(func(context.Context) (string, error) {
			calls.Add(1)
			return "A2", nil
		}).
		Times(1)

	s := New(store, store, refresher, Options{Interval: interval, Clock: fc, Metrics: m})
	t.Cleanup(s.Stop)

	s.Start(context.Background())

	require.Eventually(t, func() bool { return passes(m, passRefreshed) == 1 }, wait, tick)
	require.Equal(t, int32(1), calls.Load())
	require.True(t, s.Running())
}

func TestScheduler_NotExpiring_SkipsRefresh(t *testing.T) {
	f := newFixture(t)

	f.s.Start(context.Background())
	require.Eventually(t, func() bool { return passes(f.m, passSkipped) == 1 }, wait, tick)

	f.fc.Advance(interval)
	require.Eventually(t, func() bool { return passes(f.m, passSkipped) == 2 }, wait, tick)
}

// Пользователь вышел, пока планировщик работает: следующий проход останавливает
// таймер, дальнейших проходов нет.
func TestScheduler_SelfDeactivates(t *testing.T) {
	f := newFixture(t)

	f.s.Start(context.Background())
	require.Eventually(t, func() bool { return passes(f.m, passSkipped) == 1 }, wait, tick)

	f.auth.Store(false)
	f.fc.Advance(interval)

	require.Eventually(t, func() bool { return !f.s.Running() }, wait, tick)
	require.Equal(t, 1.0, passes(f.m, passStopped))
	require.Zero(t, f.fc.PendingCount())

	f.fc.Advance(interval)
	f.fc.Advance(interval)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2.0, totalPasses(f.m))
}

func TestScheduler_StartUnauthenticated_StopsImmediately(t *testing.T) {
	f := newFixture(t)
	f.auth.Store(false)

	f.s.Start(context.Background())

	require.Eventually(t, func() bool { return !f.s.Running() }, wait, tick)
	require.Equal(t, 1.0, passes(f.m, passStopped))
}

// Два Start подряд: активна ровно одна задача, на тик приходится один проход.
func TestScheduler_DoubleStart_SingleActiveTask(t *testing.T) {
	f := newFixture(t)

	f.s.Start(context.Background())
	require.Eventually(t, func() bool { return totalPasses(f.m) == 1 }, wait, tick)

	f.s.Start(context.Background())
	require.Eventually(t, func() bool { return totalPasses(f.m) == 2 }, wait, tick)
	require.Equal(t, 1, f.fc.PendingCount())

	f.fc.Advance(interval)
	require.Eventually(t, func() bool { return totalPasses(f.m) == 3 }, wait, tick)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 3.0, totalPasses(f.m))
}

func TestScheduler_RefreshFailure_IsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.expiry.Store(true)

	f.refresh.EXPECT().Refresh(gomock.Any()).Return("", errors.New("backend down")).Times(2)

	f.s.Start(context.Background())
	require.Eventually(t, func() bool { return passes(f.m, passFailed) == 1 }, wait, tick)
	require.True(t, f.s.Running())

	f.fc.Advance(interval)
	require.Eventually(t, func() bool { return passes(f.m, passFailed) == 2 }, wait, tick)
	require.True(t, f.s.Running())
}

func TestScheduler_Stop_NoFurtherPasses(t *testing.T) {
	f := newFixture(t)

	f.s.Start(context.Background())
	require.Eventually(t, func() bool { return totalPasses(f.m) == 1 }, wait, tick)

	f.s.Stop()
	f.s.Stop()
	require.False(t, f.s.Running())
	require.Zero(t, f.fc.PendingCount())

	f.fc.Advance(interval)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1.0, totalPasses(f.m))
}

// Отмена ctx, переданного в Start (например, HTTP-запроса), задачу не останавливает.
// stopOnCheck останавливает планировщик прямо во время проверки срока.
type stopOnCheck struct {
	s       *Scheduler
	checked chan struct{}
}

func (c *stopOnCheck) IsExpiringSoon() bool {
	c.s.Stop()
	close(c.checked)
	return true
}

// Stop между проверкой срока и обменом: refresh не вызывается.
func TestScheduler_StopDuringPass_NoRefresh(t *testing.T) {
	fc := clock.Fake(epoch)
	m := metrics.New(nil)
	auth := &flagAuth{}
	auth.Store(true)
	refresher := mocks.NewMockRefresher(gomock.NewController(t))
	refresher.EXPECT().Refresh(gomock.Any()).Times(0)

	checker := &stopOnCheck{checked: make(chan struct{})}
	s := New(auth, checker, refresher, Options{Interval: interval, Clock: fc, Metrics: m})
	checker.s = s
	t.Cleanup(s.Stop)

	s.Start(context.Background())

	select {
	case <-checker.checked:
	case <-time.After(wait):
		t.Fatal("first pass did not run")
	}

	require.False(t, s.Running())
	require.Never(t, func() bool { return totalPasses(m) > 0 }, 50*time.Millisecond, tick)
}

func TestScheduler_OutlivesStartContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.s.Start(ctx)
	require.Eventually(t, func() bool { return totalPasses(f.m) == 1 }, wait, tick)
	cancel()

	f.fc.Advance(interval)
	require.Eventually(t, func() bool { return totalPasses(f.m) == 2 }, wait, tick)
	require.True(t, f.s.Running())
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := New(&flagAuth{}, &flagExpiry{}, nil, Options{})
	require.Equal(t, DefaultInterval, s.interval)
	require.NotNil(t, s.clk)
	require.False(t, s.Running())
}
