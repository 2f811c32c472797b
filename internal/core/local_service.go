package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/direct"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/engine/events"
	"github.com/riptide-dl/riptide/internal/engine/state"
	"github.com/riptide-dl/riptide/internal/torrent"
	"github.com/riptide-dl/riptide/internal/utils"
)

// BlobName is the state-table row holding the aggregator blob.
const BlobName = "queue"

const (
	fallbackRefresh = 500 * time.Millisecond
	fallbackStop    = 10 * time.Second
	streamBuffer    = 100
)

var (
	ErrUnsupported = errors.New("no engine can handle source")
	ErrRejected    = errors.New("source rejected")
	ErrStarted     = errors.New("service already started")
)

// DefaultFactories registers the anacrolix torrent engine and the direct-link
// engine.
func DefaultFactories() []download.Factory {
	return []download.Factory{
		torrent.Factory(torrent.DefaultSession),
		direct.Factory(),
	}
}

// LocalService owns the aggregator. A single loop goroutine ticks it: queued
// commands are applied, adapters refreshed, the summary table rewritten and,
// every save interval, the queue state saved.
type LocalService struct {
	agg *download.Aggregator
	cfg *config.Store
	log zerolog.Logger

	// tickMu serializes ticks with the final summary write.
	tickMu sync.Mutex

	saveMu   sync.Mutex
	lastSave time.Time

	listeners  []chan Event
	listenerMu sync.Mutex

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// NewLocalService builds a service over factories, or DefaultFactories when
// none are given. Nothing runs until Start.
func NewLocalService(cfg *config.Store, factories ...download.Factory) *LocalService {
	if cfg == nil {
		cfg = config.NewStore(nil)
	}
	if len(factories) == 0 {
		factories = DefaultFactories()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalService{
		agg:    download.NewAggregator(cfg, factories...),
		cfg:    cfg,
		log:    utils.Logger("core"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, ev := range events.DownloadEvents {
		ev := ev
		s.agg.On(ev, func(args ...any) { s.broadcast(ev, args) })
	}
	s.watchSettings()
	return s
}

// Aggregator exposes the merged queue.
func (s *LocalService) Aggregator() *download.Aggregator { return s.agg }

// watchSettings fans shared settings out to every adapter.
func (s *LocalService) watchSettings() {
	s.cfg.On(config.KeyDownloadDir, func(...any) {
		s.agg.SetDownloadDir(s.cfg.String(config.KeyDownloadDir))
	})
	s.cfg.On(config.KeyAppIdentity, func(...any) {
		s.agg.SetIdentity(s.cfg.String(config.KeyAppIdentity))
	})
	s.cfg.On(config.KeyLogRetentionCount, func(...any) {
		utils.CleanupLogs(s.cfg.Int(config.KeyLogRetentionCount))
	})
}

// Start restores the saved queue, starts the engines and begins ticking.
func (s *LocalService) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	utils.CleanupLogs(s.cfg.Int(config.KeyLogRetentionCount))

	blob, err := state.LoadBlob(BlobName)
	if err != nil {
		return fmt.Errorf("load queue state: %w", err)
	}
	if len(blob) > 0 {
		if err := s.agg.RestoreState(blob); err != nil {
			s.log.Warn().Err(err).Msg("saved queue state unreadable, starting empty")
		}
	}
	if err := s.agg.Run(ctx); err != nil {
		return fmt.Errorf("start engines: %w", err)
	}
	if err := s.agg.CheckSettings(); err != nil {
		s.log.Warn().Err(err).Msg("adapters disagree on settings")
	}

	s.saveMu.Lock()
	s.lastSave = time.Now()
	s.saveMu.Unlock()
	s.Tick()

	s.running.Store(true)
	go s.loop()
	s.log.Info().Int("downloads", len(s.agg.Downloads())).Msg("queue started")
	return nil
}

func (s *LocalService) loop() {
	defer close(s.done)
	timer := time.NewTimer(s.refreshInterval())
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		s.Tick()
		if s.saveDue() {
			if err := s.Save(s.ctx, false); err != nil && s.ctx.Err() == nil {
				s.log.Error().Err(err).Msg("periodic save failed")
			}
		}
		timer.Reset(s.refreshInterval())
	}
}

func (s *LocalService) refreshInterval() time.Duration {
	if d := s.cfg.Duration(config.KeyRefreshInterval); d > 0 {
		return d
	}
	return fallbackRefresh
}

func (s *LocalService) saveDue() bool {
	every := s.cfg.Duration(config.KeySaveInterval)
	if every <= 0 {
		return false
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return time.Since(s.lastSave) >= every
}

// Tick applies queued commands, refreshes every adapter and rewrites the
// summary table.
func (s *LocalService) Tick() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.takeCommands()
	if err := s.agg.Refresh(); err != nil {
		s.log.Error().Err(err).Msg("refresh failed")
	}
	s.writeSummary()
}

func (s *LocalService) takeCommands() {
	cmds, err := state.TakeCommands()
	if err != nil {
		s.log.Error().Err(err).Msg("reading command queue failed")
		return
	}
	for _, c := range cmds {
		if err := s.apply(c); err != nil {
			s.log.Warn().Err(err).Str("op", string(c.Op)).Str("target", c.Target).Msg("command failed")
		}
	}
}

func (s *LocalService) apply(c state.Command) error {
	switch c.Op {
	case state.OpAdd:
		return s.Add(c.Target)
	case state.OpPause:
		return s.Pause(c.Target)
	case state.OpResume:
		return s.Resume(c.Target)
	case state.OpRemove:
		return s.Remove(c.Target, c.DeleteFiles)
	case state.OpMove:
		return s.Move(c.Target, c.Position)
	case state.OpHide:
		return s.Hide(c.Target, true)
	case state.OpUnhide:
		return s.Hide(c.Target, false)
	}
	return fmt.Errorf("unknown command %q", c.Op)
}

func (s *LocalService) writeSummary() {
	if err := state.ReplaceDownloads(s.summaries()); err != nil {
		s.log.Error().Err(err).Msg("writing download summary failed")
	}
}

func (s *LocalService) summaries() []state.DownloadEntry {
	all := s.agg.Downloads()
	out := make([]state.DownloadEntry, 0, len(all))
	for _, d := range all {
		out = append(out, summarize(d))
	}
	return out
}

func summarize(d download.Download) state.DownloadEntry {
	adapter, _, _ := strings.Cut(d.Key(), "/")
	e := state.DownloadEntry{
		Key:           d.Key(),
		Adapter:       adapter,
		Name:          d.Name(),
		State:         d.State().String(),
		Error:         d.Error(),
		Progress:      d.Progress(),
		TotalSize:     d.TotalSize(),
		Downloaded:    d.Downloaded(),
		DownloadSpeed: d.DownloadSpeed(),
		UploadSpeed:   d.UploadSpeed(),
		Position:      d.Position(),
		Hidden:        d.Hidden(),
		SaveDir:       d.SaveDir(),
	}
	if src, ok := d.(interface{ Source() string }); ok {
		e.Source = src.Source()
	}
	return e
}

// Save captures the queue and writes it to the state database. With flush,
// engines pause while they are captured.
func (s *LocalService) Save(ctx context.Context, flush bool) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	blob, err := s.agg.PersistableState(ctx, flush)
	if err != nil {
		return fmt.Errorf("capture queue state: %w", err)
	}
	if err := state.SaveBlob(BlobName, blob); err != nil {
		return err
	}
	s.lastSave = time.Now()
	return nil
}

func (s *LocalService) List() ([]state.DownloadEntry, error) {
	return s.summaries(), nil
}

func (s *LocalService) Add(locator string) error {
	locator = strings.TrimSpace(locator)
	if !s.agg.CanHandle(locator) {
		return fmt.Errorf("%w: %s", ErrUnsupported, locator)
	}
	if !s.agg.Submit(s.ctx, locator, nil) {
		return fmt.Errorf("%w: %s", ErrRejected, locator)
	}
	return nil
}

func (s *LocalService) lookup(key string) (download.Download, error) {
	d, ok := s.agg.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", download.ErrUnknownDownload, key)
	}
	return d, nil
}

func (s *LocalService) Pause(key string) error {
	d, err := s.lookup(key)
	if err != nil {
		return err
	}
	return d.Pause()
}

func (s *LocalService) Resume(key string) error {
	d, err := s.lookup(key)
	if err != nil {
		return err
	}
	return d.Resume()
}

func (s *LocalService) Remove(key string, deleteFiles bool) error {
	d, err := s.lookup(key)
	if err != nil {
		return err
	}
	return d.Remove(deleteFiles)
}

func (s *LocalService) Move(key string, pos int) error {
	return s.agg.MoveDownload(key, pos)
}

func (s *LocalService) Hide(key string, hidden bool) error {
	d, err := s.lookup(key)
	if err != nil {
		return err
	}
	d.SetHidden(hidden)
	return nil
}

// StreamEvents returns a channel that receives queue changes. Slow readers
// miss events rather than stall the queue.
func (s *LocalService) StreamEvents() (<-chan Event, error) {
	ch := make(chan Event, streamBuffer)
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.ctx.Err() != nil {
		close(ch)
		return ch, nil
	}
	s.listeners = append(s.listeners, ch)
	return ch, nil
}

func (s *LocalService) broadcast(event string, args []any) {
	if len(args) == 0 {
		return
	}
	d, ok := args[0].(download.Download)
	if !ok {
		return
	}
	msg := Event{Type: event, Key: d.Key(), State: d.State().String()}
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Shutdown stops ticking, saves the queue with engines paused, stops the
// engines and closes event streams. It is safe to call more than once.
func (s *LocalService) Shutdown() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.running.Load() {
			<-s.done
		}

		timeout := s.cfg.Duration(config.KeyStopTimeout)
		if timeout <= 0 {
			timeout = fallbackStop
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if s.running.Load() {
			if err := s.Save(ctx, true); err != nil {
				errs = append(errs, err)
			}
			s.tickMu.Lock()
			s.writeSummary()
			s.tickMu.Unlock()
		}
		if err := s.agg.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		s.stopErr = errors.Join(errs...)

		s.listenerMu.Lock()
		for _, ch := range s.listeners {
			close(ch)
		}
		s.listeners = nil
		s.listenerMu.Unlock()

		if s.stopErr != nil {
			s.log.Error().Err(s.stopErr).Msg("queue stopped with errors")
		} else {
			s.log.Info().Msg("queue stopped")
		}
	})
	return s.stopErr
}

var _ QueueService = (*LocalService)(nil)
