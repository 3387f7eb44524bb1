package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/crafttrack/internal/remote"
	"github.com/kimhsiao/crafttrack/internal/remote/remotetest"
)

type fakeProber struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (p *fakeProber) Health(context.Context) error {
	p.calls.Add(1)
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *recorder) set(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, online)
}

func (r *recorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func TestMonitor_reportsTransitionsOnly(t *testing.T) {
	p := &fakeProber{}
	rec := &recorder{}
	m := NewMonitor(p, rec.set, time.Hour)
	ctx := context.Background()

	if m.Online() {
		t.Error("Online() before first probe = true")
	}
	m.Check(ctx)
	m.Check(ctx)
	p.down.Store(true)
	m.Check(ctx)
	m.Check(ctx)
	p.down.Store(false)
	if !m.Check(ctx) {
		t.Error("Check() = false, want true")
	}

	got := rec.get()
	want := []bool{true, false, true}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMonitor_startProbesPeriodically(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, nil, 10*time.Millisecond)

	m.Start(context.Background())
	m.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	m.Stop()

	if p.calls.Load() < 3 {
		t.Fatalf("probes = %d, want at least 3", p.calls.Load())
	}
	after := p.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if p.calls.Load() != after {
		t.Error("probing continued after Stop")
	}
	if !m.Online() {
		t.Error("Online() = false, want true")
	}
}

func TestMonitor_againstRemote(t *testing.T) {
	srv := remotetest.New("secret")
	client, err := remote.NewClient(remote.Config{BaseURL: srv.URL, Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	m := NewMonitor(client, nil, time.Hour)

	if !m.Check(context.Background()) {
		t.Error("Check() with server up = false")
	}
	srv.Close()
	if m.Check(context.Background()) {
		t.Error("Check() with server down = true")
	}
}
