package torrent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/engine/events"
	"github.com/riptide-dl/riptide/internal/testutil"
	"github.com/riptide-dl/riptide/internal/torrent/session"
)

type sessions struct {
	mu    sync.Mutex
	fakes []*testutil.FakeSession
	err   error
	tweak func(*testutil.FakeSession)
	// overlap is set when a session is created while an earlier one is
	// still open.
	overlap bool
}

func (s *sessions) factory(st session.Settings) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fakes {
		if !f.Closed() {
			s.overlap = true
		}
	}
	if s.err != nil && len(s.fakes) > 0 {
		return nil, s.err
	}
	f := testutil.NewFakeSession(st)
	if s.tweak != nil {
		s.tweak(f)
	}
	s.fakes = append(s.fakes, f)
	return f, nil
}

func (s *sessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fakes)
}

func (s *sessions) overlapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}

func (s *sessions) last() *testutil.FakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fakes[len(s.fakes)-1]
}

func testConfig(t *testing.T, kv map[string]any) *config.Store {
	t.Helper()
	cfg := config.NewStore(nil)
	require.NoError(t, cfg.Set(config.KeyDownloadDir, t.TempDir()))
	require.NoError(t, cfg.Set(config.KeyStopTimeout, time.Second))
	for k, v := range kv {
		require.NoError(t, cfg.Set(k, v))
	}
	return cfg
}

// newTestAdapter builds an adapter on fake sessions without running it.
func newTestAdapter(t *testing.T, kv map[string]any) (*Adapter, *sessions) {
	t.Helper()
	ss := &sessions{}
	a := New(testConfig(t, kv), ss.factory)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a, ss
}

// startAdapter builds and runs an adapter, returning its fake engine.
func startAdapter(t *testing.T, kv map[string]any) (*Adapter, *testutil.FakeSession) {
	t.Helper()
	a, ss := newTestAdapter(t, kv)
	require.NoError(t, a.Run(context.Background()))
	return a, ss.last()
}

func submitMagnet(t *testing.T, a *Adapter, name string, userData map[string]any) string {
	t.Helper()
	link, hash := testutil.MagnetLink(name)
	require.True(t, a.Submit(context.Background(), link, userData))
	return hash
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func watch(a download.Adapter, names ...string) *recorder {
	r := &recorder{}
	for _, name := range names {
		name := name
		a.On(name, func(args ...any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, name+":"+args[0].(download.Download).ID())
		})
	}
	return r
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

var allEvents = events.DownloadEvents

func ids(ds []download.Download) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID()
	}
	return out
}

func positions(ds []download.Download) []int {
	out := make([]int, len(ds))
	for i, d := range ds {
		out[i] = d.Position()
	}
	return out
}
