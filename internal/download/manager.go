package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ytget/clipqueue/internal/config"
	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/platform"
	"github.com/ytget/clipqueue/internal/store"
)

const (
	mailboxSize      = 128
	managerComponent = "manager"
)

var (
	// ErrClosed is returned by requests sent after the manager stopped
	ErrClosed = errors.New("manager closed")
	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("manager already running")
)

// Snapshot is a copy of the scheduler state
type Snapshot struct {
	Queue  []string
	Active []string
	Paused bool
	Limit  int
}

// Manager schedules jobs. All scheduler state is owned by the goroutine
// running Run; every public method is a message to it.
type Manager struct {
	store    JobStore
	exec     Executor
	settings config.Provider
	notifier Notifier
	logger   zerolog.Logger

	cmds      chan any
	done      chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
	running   sync.WaitGroup

	// owned by the loop
	queue         []string
	active        map[string]activeRun
	overrides     map[string]model.Overrides
	paused        bool
	limit         int
	nextRun       uint64
	recoverQueued bool

	// finishedHook observes completions, applied is false for stale runs
	finishedHook func(id string, applied bool)
}

type activeRun struct {
	cancel context.CancelFunc
	run    uint64
}

// Mailbox messages
type (
	enqueueCmd  struct{ ids []string }
	backlogCmd  struct{ ids []string }
	cancelCmd   struct{ id string }
	startNowCmd struct {
		id string
		ov *model.Overrides
	}
	pauseCmd    struct{ paused bool }
	refreshCmd  struct{}
	snapshotCmd struct{ reply chan Snapshot }

	// taskFinishedCmd is sent by an execution when it returns. Only the
	// execution holding the current run token frees the slot.
	taskFinishedCmd struct {
		id      string
		run     uint64
		outcome model.Outcome
	}
)

// NewManager creates a manager. The initial paused flag, parallel limit and
// startup recovery mode come from settings. notifier may be nil.
func NewManager(jobs JobStore, exec Executor, settings config.Provider, notifier Notifier, logger zerolog.Logger) (*Manager, error) {
	s, err := settings.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &Manager{
		store:         jobs,
		exec:          exec,
		settings:      settings,
		notifier:      notifier,
		logger:        logger.With().Str("component", managerComponent).Logger(),
		cmds:          make(chan any, mailboxSize),
		done:          make(chan struct{}),
		active:        make(map[string]activeRun),
		overrides:     make(map[string]model.Overrides),
		paused:        !s.DownloadAutomatically,
		limit:         config.ClampMaxParallel(s.MaxParallel),
		recoverQueued: s.RecoverQueued,
	}, nil
}

// Enqueue schedules jobs. Ids already pending or running are left alone.
func (m *Manager) Enqueue(ids ...string) error {
	return m.send(enqueueCmd{ids: ids})
}

// MoveToBacklog unschedules jobs, aborting those that are running
func (m *Manager) MoveToBacklog(ids ...string) error {
	return m.send(backlogCmd{ids: ids})
}

// Cancel unschedules a job, aborts it if running and marks it canceled
func (m *Manager) Cancel(id string) error {
	return m.send(cancelCmd{id: id})
}

// StartNow puts a job at the front of the queue and dispatches it even
// while paused, capacity permitting. ov may be nil.
func (m *Manager) StartNow(id string, ov *model.Overrides) error {
	return m.send(startNowCmd{id: id, ov: ov})
}

// SetPaused toggles dispatch. Running jobs are not affected.
func (m *Manager) SetPaused(paused bool) error {
	return m.send(pauseCmd{paused: paused})
}

// RefreshSettings reloads the parallel limit. Lowering it aborts nothing.
func (m *Manager) RefreshSettings() error {
	return m.send(refreshCmd{})
}

// Snapshot returns a copy of the queue, the active ids, the paused flag and
// the limit
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := m.send(snapshotCmd{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-m.done:
		return Snapshot{}, ErrClosed
	}
}

// DownloadURL fetches a link right away. The job with the same normalized
// link is reused; otherwise a manual job is created.
func (m *Manager) DownloadURL(ctx context.Context, url string, ov model.Overrides) (string, error) {
	link, audio, flat := platform.StripLegacyMarkers(strings.TrimSpace(url))
	if link == "" {
		return "", errors.New("empty link")
	}
	if audio && ov.ForceAudio == nil {
		ov.ForceAudio = &audio
	}
	ov.FlatDestination = ov.FlatDestination || flat

	job, err := m.store.FindByLink(ctx, link)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		format := model.OutputDefault
		if ov.ForceAudio != nil {
			format = model.OutputVideo
			if *ov.ForceAudio {
				format = model.OutputAudio
			}
		}
		job = &model.Job{
			Platform:     platform.InferPlatform(link),
			Media:        platform.InferMedia(link),
			Origin:       model.OriginManual,
			Link:         link,
			OutputFormat: format,
			Status:       model.StatusBacklog,
		}
		if job.ID, err = m.store.Create(ctx, job); err != nil {
			return "", fmt.Errorf("failed to create job: %w", err)
		}
		m.logger.Info().Str("job", job.ID).Str("link", link).Msg("created manual job")
	default:
		return "", fmt.Errorf("failed to look up link: %w", err)
	}

	if err := m.StartNow(job.ID, &ov); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Close stops the loop. Running jobs are aborted by Run on its way out.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) send(cmd any) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.cmds <- cmd:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// Run recovers jobs left over by a previous process and then serves
// requests until ctx is done or Close is called.
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.shutdown()

	m.recover(ctx)
	m.dispatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		case cmd := <-m.cmds:
			m.handle(ctx, cmd)
		}
	}
}

func (m *Manager) shutdown() {
	m.Close()
	for id, a := range m.active {
		a.cancel()
		delete(m.active, id)
	}
	m.running.Wait()
	m.logger.Debug().Msg("manager stopped")
}

func (m *Manager) recover(ctx context.Context) {
	n, err := m.store.ResetStale(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to reset stale jobs")
	} else if n > 0 {
		m.logger.Info().Int("count", n).Msg("requeued interrupted jobs")
	}

	if !m.recoverQueued {
		return
	}
	jobs, err := m.store.List(ctx, store.StatusFilter(model.StatusQueued))
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list queued jobs")
		return
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	m.enqueue(ctx, ids)
}

func (m *Manager) handle(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case enqueueCmd:
		m.enqueue(ctx, c.ids)
	case backlogCmd:
		m.moveToBacklog(ctx, c.ids)
	case cancelCmd:
		m.cancel(ctx, c.id)
	case startNowCmd:
		m.startNow(ctx, c.id, c.ov)
		return
	case pauseCmd:
		m.paused = c.paused
	case refreshCmd:
		m.refresh()
	case snapshotCmd:
		c.reply <- m.snapshot()
		return
	case taskFinishedCmd:
		m.finish(ctx, c)
	default:
		m.logger.Error().Str("type", fmt.Sprintf("%T", cmd)).Msg("unknown command")
		return
	}
	m.dispatch(ctx)
}

func (m *Manager) enqueue(ctx context.Context, ids []string) {
	for _, id := range ids {
		if m.isActive(id) || m.isPending(id) {
			continue
		}
		changed, err := m.store.SetStatus(ctx, id, model.StatusQueued)
		if err != nil {
			m.persistFailed(id, "Failed to set status", err)
			continue
		}
		m.queue = append(m.queue, id)
		if changed {
			m.notify(model.StatusChanged(id, model.StatusQueued))
		}
	}
}

func (m *Manager) moveToBacklog(ctx context.Context, ids []string) {
	for _, id := range ids {
		m.removePending(id)
		delete(m.overrides, id)
		m.abort(id)
		changed, err := m.store.SetStatus(ctx, id, model.StatusBacklog)
		if err != nil {
			m.persistFailed(id, "Failed to move to backlog", err)
			continue
		}
		if changed {
			m.notify(model.StatusChanged(id, model.StatusBacklog))
		}
	}
}

func (m *Manager) cancel(ctx context.Context, id string) {
	m.removePending(id)
	delete(m.overrides, id)
	m.abort(id)
	changed, err := m.store.SetStatus(ctx, id, model.StatusCanceled)
	if err != nil {
		m.persistFailed(id, "Failed to cancel", err)
		return
	}
	if changed {
		m.notify(model.StatusChanged(id, model.StatusCanceled))
	}
}

func (m *Manager) startNow(ctx context.Context, id string, ov *model.Overrides) {
	if m.isActive(id) {
		return
	}
	if ov != nil {
		m.overrides[id] = *ov
	}
	m.removePending(id)
	m.enqueue(ctx, []string{id})
	if !m.isPending(id) {
		delete(m.overrides, id)
		return
	}
	// Move to the front so the forced pass picks this job
	m.removePending(id)
	m.queue = append([]string{id}, m.queue...)

	if m.paused {
		if len(m.active) < m.limit {
			m.queue = m.queue[1:]
			m.start(ctx, id)
		}
		return
	}
	m.dispatch(ctx)
}

func (m *Manager) refresh() {
	s, err := m.settings.Load()
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to reload settings")
		return
	}
	m.limit = config.ClampMaxParallel(s.MaxParallel)
	m.logger.Debug().Int("limit", m.limit).Msg("settings refreshed")
}

func (m *Manager) dispatch(ctx context.Context) {
	if m.paused {
		return
	}
	for len(m.active) < m.limit && len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		if m.isActive(id) {
			continue
		}
		m.start(ctx, id)
	}
}

// start marks the job Downloading and spawns its execution
func (m *Manager) start(ctx context.Context, id string) {
	ov := m.overrides[id]
	delete(m.overrides, id)

	changed, err := m.store.SetStatus(ctx, id, model.StatusDownloading)
	if err != nil {
		m.persistFailed(id, "Failed to mark downloading", err)
		return
	}
	if changed {
		m.notify(model.StatusChanged(id, model.StatusDownloading))
	}

	m.nextRun++
	run := m.nextRun
	jobCtx, cancel := context.WithCancel(ctx)
	m.active[id] = activeRun{cancel: cancel, run: run}
	m.logger.Debug().Str("job", id).Uint64("run", run).Int("active", len(m.active)).Msg("dispatched")

	m.running.Add(1)
	go m.execute(jobCtx, id, run, ov)
}

func (m *Manager) execute(ctx context.Context, id string, run uint64, ov model.Overrides) {
	defer m.running.Done()

	var out model.Outcome
	job, err := m.store.Find(ctx, id)
	switch {
	case err == nil:
		out = m.exec.Execute(ctx, job, ov)
	case ctx.Err() != nil:
		out = canceled(ctx.Err())
	default:
		out = failed(err, msgNotFound)
	}

	select {
	case m.cmds <- taskFinishedCmd{id: id, run: run, outcome: out}:
	case <-m.done:
	}
}

func (m *Manager) finish(ctx context.Context, msg taskFinishedCmd) {
	a, ok := m.active[msg.id]
	if !ok || a.run != msg.run {
		m.logger.Debug().Str("job", msg.id).Uint64("run", msg.run).Msg("ignoring stale completion")
		m.observeFinish(msg.id, false)
		return
	}
	delete(m.active, msg.id)
	a.cancel()

	out := msg.outcome
	switch {
	case isCanceled(out):
		m.logger.Debug().Str("job", msg.id).Msg("run aborted")
	case out.Success:
		if err := m.store.MarkDone(ctx, msg.id, out.Path); err != nil {
			m.persistFailed(msg.id, "Failed to set status", err)
			break
		}
		m.notify(model.StatusChanged(msg.id, model.StatusDone))
	default:
		m.logger.Warn().Str("job", msg.id).Err(out.Err).Msg("job failed")
		if _, err := m.store.SetStatus(ctx, msg.id, model.StatusError); err != nil {
			m.persistFailed(msg.id, "Failed to set status", err)
		}
		if out.Diagnostic != "" {
			m.notify(model.Message(msg.id, out.Diagnostic))
		}
		m.notify(model.StatusChanged(msg.id, model.StatusError))
	}
	m.observeFinish(msg.id, true)
}

func (m *Manager) observeFinish(id string, applied bool) {
	if m.finishedHook != nil {
		m.finishedHook(id, applied)
	}
}

// abort cancels a running execution; its outcome will be ignored
func (m *Manager) abort(id string) {
	if a, ok := m.active[id]; ok {
		a.cancel()
		delete(m.active, id)
		m.logger.Debug().Str("job", id).Msg("aborted")
	}
}

func (m *Manager) snapshot() Snapshot {
	s := Snapshot{
		Queue:  append([]string(nil), m.queue...),
		Active: make([]string, 0, len(m.active)),
		Paused: m.paused,
		Limit:  m.limit,
	}
	for id := range m.active {
		s.Active = append(s.Active, id)
	}
	sort.Strings(s.Active)
	return s
}

func (m *Manager) isActive(id string) bool {
	_, ok := m.active[id]
	return ok
}

func (m *Manager) isPending(id string) bool {
	for _, q := range m.queue {
		if q == id {
			return true
		}
	}
	return false
}

func (m *Manager) removePending(id string) {
	out := m.queue[:0]
	for _, q := range m.queue {
		if q != id {
			out = append(out, q)
		}
	}
	m.queue = out
}

func (m *Manager) persistFailed(id, what string, err error) {
	m.logger.Warn().Str("job", id).Err(err).Msg(what)
	m.notify(model.Message(id, fmt.Sprintf("%s: %v", what, err)))
}

func (m *Manager) notify(ev model.Event) {
	if m.notifier != nil {
		m.notifier.Notify(ev)
	}
}
