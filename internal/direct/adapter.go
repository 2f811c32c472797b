// Package direct downloads plain HTTP(S) links into the shared queue.
//
// Each download is a single ranged GET written to a partial file next to its
// destination and renamed when complete. Refresh schedules queued downloads in
// position order up to network.max_concurrent_downloads.
package direct

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/source"
)

const (
	Name     = "direct"
	Priority = 5
)

// Factory registers the direct adapter with an Aggregator.
func Factory() download.Factory {
	return download.Factory{
		Name:     Name,
		Priority: Priority,
		New: func(cfg *config.Store) (download.Adapter, error) {
			return New(cfg), nil
		},
	}
}

type Adapter struct {
	*download.BaseAdapter

	client atomic.Pointer[http.Client]
	// pathMu serializes picking and claiming destination names.
	pathMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	ready    atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func New(cfg *config.Store) *Adapter {
	a := &Adapter{BaseAdapter: download.NewBaseAdapter(Name, Priority, cfg)}
	a.client.Store(a.newClient())
	a.Config().On(config.KeyRequestTimeout, func(...any) {
		a.client.Store(a.newClient())
	})
	return a
}

// newClient bounds the time to the response headers only; the body may take
// as long as it takes.
func (a *Adapter) newClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = a.Config().Duration(config.KeyRequestTimeout)
	return &http.Client{Transport: t}
}

func (a *Adapter) Ready() bool { return a.ready.Load() && !a.stopped.Load() }

func (a *Adapter) Run(ctx context.Context) error {
	if a.stopped.Load() {
		return errors.New("direct adapter stopped")
	}
	if a.ready.Load() {
		return nil
	}
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.ready.Store(true)
	return nil
}

// Stop cancels every transfer and waits for the workers up to
// queue.stop_timeout. Partial files stay for the next run.
func (a *Adapter) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopped.Store(true)
		a.ready.Store(false)
		if a.cancel == nil {
			return
		}
		a.cancel()

		done := make(chan struct{})
		go func() {
			a.workers.Wait()
			close(done)
		}()
		timer := time.NewTimer(a.Config().Duration(config.KeyStopTimeout))
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			a.stopErr = fmt.Errorf("direct transfers still running: %w", context.DeadlineExceeded)
		case <-ctx.Done():
			a.stopErr = ctx.Err()
		}
	})
	return a.stopErr
}

func (a *Adapter) CanHandle(locator string) bool {
	return source.KindOf(locator) == source.KindHTTP
}

// Submit queues locator. Direct downloads need no engine confirmation, so the
// download is in the queue when Submit returns true.
func (a *Adapter) Submit(ctx context.Context, locator string, userData map[string]any) bool {
	if !a.Ready() || !a.CanHandle(locator) {
		return false
	}
	_, key := source.CanonicalKey(locator)
	for _, dl := range a.Downloads() {
		if _, other := source.CanonicalKey(dl.(*Download).Source()); other == key {
			a.Log().Warn().Str("url", locator).Msg("link already queued")
			return false
		}
	}

	d := newDownload(a, uuid.NewString(), source.Normalize(locator))
	d.Apply(download.Stats{State: download.StateQueued, SaveDir: a.DownloadDir()})
	if userData != nil {
		d.SetUserData(userData)
	}
	return a.Add(d, download.Append)
}

func (a *Adapter) userAgent() string {
	if ua := a.Config().String(config.KeyUserAgent); ua != "" {
		return ua
	}
	return a.Identity()
}

// Refresh starts queued downloads, copies progress into records and applies
// finished-item retention.
func (a *Adapter) Refresh() error {
	if a.stopped.Load() {
		return nil
	}
	if !a.ready.Load() {
		return download.ErrNotReady
	}
	a.schedule()
	for _, dl := range a.Downloads() {
		if d := dl.(*Download); a.sync(d) {
			a.MarkOutdated(d.ID())
		}
	}
	a.retainFinished()
	a.FlushUpdates()
	return nil
}

func (a *Adapter) sync(d *Download) bool {
	return d.Apply(d.stats(time.Now()))
}

// schedule starts queued downloads in position order while slots are free.
// A limit of zero or less means no limit.
func (a *Adapter) schedule() {
	limit := a.Config().Int(config.KeyMaxConcurrent)
	active := 0
	visible := a.Visible()
	for _, dl := range visible {
		if dl.(*Download).p.Active() {
			active++
		}
	}
	for _, dl := range visible {
		if limit > 0 && active >= limit {
			return
		}
		if d := dl.(*Download); d.startable() {
			a.start(d)
			active++
		}
	}
}

func (a *Adapter) start(d *Download) {
	ctx, cancel := context.WithCancel(a.ctx)
	running := make(chan struct{})
	d.p.attach(cancel, running)
	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		defer close(running)
		defer cancel()

		err := a.fetch(ctx, d)
		switch {
		case err == nil:
			d.p.Done.Store(true)
			a.Log().Info().Str("id", d.ID()).Str("path", d.Path()).Msg("download finished")
		case ctx.Err() != nil:
			// Paused, removed or shutting down.
		default:
			d.p.SetError(err)
			a.Log().Warn().Err(err).Str("id", d.ID()).Str("url", d.Source()).Msg("download failed")
		}
		d.p.detach()
		a.MarkOutdated(d.ID())
	}()
}

// retainFinished hides finished downloads when general.hide_finished is on and
// drops those hidden longer than general.reap_hidden_after. Files are kept.
func (a *Adapter) retainFinished() {
	cfg := a.Config()
	if cfg.Bool(config.KeyHideFinished) {
		for _, d := range a.Visible() {
			if d.State().Done() {
				d.SetHidden(true)
			}
		}
	}
	if after := cfg.Duration(config.KeyReapHiddenAfter); after > 0 {
		for _, d := range a.HiddenBefore(time.Now().Add(-after)) {
			if d.State().Done() {
				a.Drop(d.ID())
			}
		}
	}
}

func (a *Adapter) PersistableState(ctx context.Context, flush bool) (json.RawMessage, error) {
	all := a.Downloads()
	entries := make([]download.Entry, 0, len(all))
	for _, d := range all {
		entries = append(entries, d.PersistableState())
	}
	return download.EncodeState(nil, entries)
}

// RestoreState loads saved downloads at their saved positions. Unfinished ones
// come back paused unless general.auto_resume is on.
func (a *Adapter) RestoreState(blob json.RawMessage) error {
	_, entries, err := download.DecodeState(blob)
	if err != nil {
		return err
	}
	autoResume := a.Config().Bool(config.KeyAutoResume)
	a.RestoreEntries(entries, func(e download.Entry) (download.Download, error) {
		if _, err := uuid.Parse(e.ID); err != nil {
			return nil, fmt.Errorf("invalid id %q", e.ID)
		}
		d := newDownload(a, e.ID, e.Source)
		if !autoResume && !e.Finished {
			e.Paused = true
		}
		if err := d.RestoreState(e); err != nil {
			return nil, err
		}
		a.sync(d)
		return d, nil
	})
	return nil
}
