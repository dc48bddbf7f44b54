package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telestream/internal/domain"
)

type fakePoolBackend struct {
	mu       sync.Mutex
	statuses []domain.PoolStatus
	errs     []error
	idx      int
}

func (f *fakePoolBackend) PoolStatus(context.Context) (domain.PoolStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.idx
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.idx++
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.PoolStatus{}, f.errs[i]
	}
	return f.statuses[i], nil
}

type poolNotification struct {
	warning domain.PoolWarning
	status  domain.PoolStatus
}

func collectPoolNotifications(t *testing.T, backend *fakePoolBackend, polls int) []poolNotification {
	t.Helper()

	var mu sync.Mutex
	var got []poolNotification
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := PoolMonitor{
		Backend:  backend,
		Logger:   discardLogger(),
		Interval: time.Millisecond,
		Notify: func(w domain.PoolWarning, s domain.PoolStatus) {
			mu.Lock()
			got = append(got, poolNotification{w, s})
			mu.Unlock()
		},
	}
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		backend.mu.Lock()
		enough := backend.idx >= polls
		backend.mu.Unlock()
		if enough {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor did not poll enough times")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	return got
}

func TestPoolMonitorNotifiesOnLevelChangesOnly(t *testing.T) {
	healthy := domain.PoolStatus{TotalClients: 10, ClientsInUse: 5, ClientsAvailable: 5}
	pressured := domain.PoolStatus{TotalClients: 10, ClientsInUse: 9, ClientsAvailable: 1}

	backend := &fakePoolBackend{statuses: []domain.PoolStatus{
		healthy, healthy, pressured, pressured, healthy, healthy,
	}}
	got := collectPoolNotifications(t, backend, 6)

	if len(got) < 2 {
		t.Fatalf("notifications = %d, want at least raise+clear", len(got))
	}
	if got[0].warning != domain.PoolWarningHighPressure {
		t.Fatalf("first notification = %q, want high_pressure", got[0].warning)
	}
	if got[0].status != pressured {
		t.Fatalf("raise status = %+v, want %+v", got[0].status, pressured)
	}
	if got[1].warning != domain.PoolWarningNone {
		t.Fatalf("second notification = %q, want cleared", got[1].warning)
	}
}

func TestPoolMonitorReportsNoClients(t *testing.T) {
	empty := domain.PoolStatus{}
	backend := &fakePoolBackend{statuses: []domain.PoolStatus{empty, empty}}
	got := collectPoolNotifications(t, backend, 2)

	if len(got) == 0 {
		t.Fatal("no notification for an empty pool")
	}
	if got[0].warning != domain.PoolWarningNoClients {
		t.Fatalf("notification = %q, want no_clients", got[0].warning)
	}
}

func TestPoolMonitorSkipsFailedPolls(t *testing.T) {
	pressured := domain.PoolStatus{TotalClients: 10, ClientsInUse: 10}
	backend := &fakePoolBackend{
		statuses: []domain.PoolStatus{{}, pressured, pressured},
		errs:     []error{errors.New("backend down"), nil, nil},
	}
	got := collectPoolNotifications(t, backend, 3)

	// The failed first poll produces nothing; the level change still lands.
	if len(got) == 0 {
		t.Fatal("no notification after recovery from a failed poll")
	}
	if got[0].warning != domain.PoolWarningHighPressure {
		t.Fatalf("notification = %q, want high_pressure", got[0].warning)
	}
}
