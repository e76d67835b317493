package pphsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
)

type countingSyncer struct {
	passes      atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (s *countingSyncer) Process(ctx context.Context) (*PassResult, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.passes.Add(1)
	return &PassResult{}, nil
}

func startMonitor(t *testing.T, syncer Syncer, cfg MonitorConfig) *Monitor {
	t.Helper()
	m := NewMonitor(syncer, cfg)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

const settle = 50 * time.Millisecond

func TestMonitor_TransitionToReachableTriggersOnePass(t *testing.T) {
	syncer := &countingSyncer{}
	m := startMonitor(t, syncer, MonitorConfig{})

	m.OnReachabilityChange(true)
	require.Eventually(t, func() bool { return syncer.passes.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Still reachable: not a transition.
	m.OnReachabilityChange(true)
	time.Sleep(settle)
	require.Equal(t, int32(1), syncer.passes.Load())

	m.OnReachabilityChange(false)
	m.OnReachabilityChange(true)
	require.Eventually(t, func() bool { return syncer.passes.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMonitor_OfflineDoesNotSync(t *testing.T) {
	syncer := &countingSyncer{}
	m := startMonitor(t, syncer, MonitorConfig{Interval: 5 * time.Millisecond})

	m.NotifyEnqueued()
	require.False(t, m.SyncNow())
	time.Sleep(settle)
	require.Zero(t, syncer.passes.Load())

	m.OnReachabilityChange(true)
	require.True(t, m.SyncNow())
	require.Eventually(t, func() bool { return syncer.passes.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestMonitor_PassesNeverOverlap(t *testing.T) {
	syncer := &countingSyncer{delay: 10 * time.Millisecond}
	m := startMonitor(t, syncer, MonitorConfig{Interval: 3 * time.Millisecond})
	m.OnReachabilityChange(true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.NotifyEnqueued()
			m.SyncNow()
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, int32(1), syncer.maxInFlight.Load())
	require.Less(t, syncer.passes.Load(), int32(40))
}

func TestMonitor_ProberDrivesReachability(t *testing.T) {
	syncer := &countingSyncer{}
	var up atomic.Bool
	m := startMonitor(t, syncer, MonitorConfig{
		ProbeInterval: 5 * time.Millisecond,
		Prober:        ProberFunc(func(context.Context) bool { return up.Load() }),
	})

	time.Sleep(settle)
	require.False(t, m.Reachable())
	require.Zero(t, syncer.passes.Load())

	up.Store(true)
	require.Eventually(t, m.Reachable, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return syncer.passes.Load() == 1 }, time.Second, 5*time.Millisecond)

	up.Store(false)
	require.Eventually(t, func() bool { return !m.Reachable() }, time.Second, 5*time.Millisecond)
}

func TestMonitor_StartTwiceFails(t *testing.T) {
	m := startMonitor(t, &countingSyncer{}, MonitorConfig{})
	require.Error(t, m.Start(context.Background()))
}

func TestMonitor_EnqueueHookPushesRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 5)
	remote := newFakeRemote()
	p := NewProcessor(s, remote, nil)

	passes := make(chan *PassResult, 16)
	m := startMonitor(t, p, MonitorConfig{
		OnPass: func(res *PassResult, err error) {
			if err != nil {
				return
			}
			select {
			case passes <- res:
			default:
			}
		},
	})
	s.SetEnqueueHook(func(clinical.QueueEntry) { m.NotifyEnqueued() })

	// Offline: saved locally, nothing pushed.
	_, err := s.Save(ctx, testCase("case-1"), clinical.OpInsert)
	require.NoError(t, err)
	time.Sleep(settle)
	require.Zero(t, remote.count("insert cases"))

	// Coming online drains the backlog.
	m.OnReachabilityChange(true)
	require.Eventually(t, func() bool {
		c, err := s.GetCase(ctx, "case-1")
		return err == nil && c.IsSynced
	}, 2*time.Second, 10*time.Millisecond)

	// Online: a new enqueue is pushed without an explicit sync.
	_, err = s.Save(ctx, testVital("vital-1", "case-1"), clinical.OpInsert)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, err := s.GetVitalSign(ctx, "vital-1")
		return err == nil && v.IsSynced
	}, 2*time.Second, 10*time.Millisecond)

	last, lastErr := m.LastResult()
	require.NoError(t, lastErr)
	require.NotNil(t, last)
	require.NotEmpty(t, passes)
	require.Equal(t, 1, remote.count("insert cases"))
}
