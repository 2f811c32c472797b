package direct

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// progress tracks one transfer. The worker goroutine only touches Downloaded
// and the error; everything else belongs to the adapter.
type progress struct {
	Downloaded atomic.Int64
	Done       atomic.Bool
	Paused     atomic.Bool
	Error      atomic.Pointer[error]

	mu          sync.Mutex // protects the fields below
	totalSize   int64      // -1 while unknown
	cancel      context.CancelFunc
	running     chan struct{} // closed when the worker exits
	sampleAt    time.Time
	sampleBytes int64
	speed       int64
}

func newProgress(totalSize int64) *progress {
	return &progress{totalSize: totalSize}
}

func (p *progress) SetTotalSize(size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalSize = size
}

func (p *progress) TotalSize() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalSize
}

func (p *progress) SetError(err error) {
	if err == nil {
		p.Error.Store(nil)
		return
	}
	p.Error.Store(&err)
}

func (p *progress) GetError() error {
	if e := p.Error.Load(); e != nil {
		return *e
	}
	return nil
}

// attach records a started worker.
func (p *progress) attach(cancel context.CancelFunc, running chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel = cancel
	p.running = running
	p.sampleAt = time.Now()
	p.sampleBytes = p.Downloaded.Load()
}

func (p *progress) detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel = nil
	p.running = nil
	p.speed = 0
}

func (p *progress) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running != nil
}

// halt cancels the worker, if any, and waits for it to exit.
func (p *progress) halt() {
	p.mu.Lock()
	cancel, running := p.cancel, p.running
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-running
}

// Speed returns bytes per second since the previous call while a worker runs.
func (p *progress) Speed(now time.Time) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running == nil {
		return 0
	}
	elapsed := now.Sub(p.sampleAt)
	if elapsed < 100*time.Millisecond {
		return p.speed
	}
	n := p.Downloaded.Load()
	p.speed = int64(float64(n-p.sampleBytes) / elapsed.Seconds())
	p.sampleAt, p.sampleBytes = now, n
	return p.speed
}
