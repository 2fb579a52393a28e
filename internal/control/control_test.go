package control

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/clipqueue/internal/config"
	"github.com/ytget/clipqueue/internal/download"
	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/store"
)

const (
	testChannel = "clipq:control"
	waitFor     = 2 * time.Second
	tick        = 10 * time.Millisecond
)

// recordingTarget records calls as "op:arg" strings
type recordingTarget struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingTarget) add(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return nil
}

func (r *recordingTarget) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingTarget) Enqueue(ids ...string) error {
	return r.add("enqueue:" + strings.Join(ids, ","))
}

func (r *recordingTarget) MoveToBacklog(ids ...string) error {
	return r.add("backlog:" + strings.Join(ids, ","))
}

func (r *recordingTarget) Cancel(id string) error { return r.add("cancel:" + id) }

func (r *recordingTarget) StartNow(id string, ov *model.Overrides) error {
	audio := "nil"
	if ov != nil && ov.ForceAudio != nil {
		audio = fmt.Sprint(*ov.ForceAudio)
	}
	return r.add(fmt.Sprintf("start:%s:audio=%s", id, audio))
}

func (r *recordingTarget) SetPaused(paused bool) error {
	return r.add(fmt.Sprintf("paused:%v", paused))
}

func (r *recordingTarget) RefreshSettings() error { return r.add("refresh") }

func TestApply(t *testing.T) {
	yes := true
	tests := []struct {
		name     string
		cmd      Command
		expected []string
	}{
		{"enqueue", Command{Op: OpEnqueue, IDs: []string{"a", "b"}}, []string{"enqueue:a,b"}},
		{"backlog", Command{Op: OpBacklog, IDs: []string{"a"}}, []string{"backlog:a"}},
		{"cancel each", Command{Op: OpCancel, IDs: []string{"a", "b"}}, []string{"cancel:a", "cancel:b"}},
		{"start with overrides", Command{Op: OpStart, IDs: []string{"a"}, Overrides: &model.Overrides{ForceAudio: &yes}}, []string{"start:a:audio=true"}},
		{"start plain", Command{Op: OpStart, IDs: []string{"a"}}, []string{"start:a:audio=nil"}},
		{"pause", Command{Op: OpPause}, []string{"paused:true"}},
		{"resume", Command{Op: OpResume}, []string{"paused:false"}},
		{"refresh", Command{Op: OpRefresh}, []string{"refresh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &recordingTarget{}
			require.NoError(t, Apply(target, tt.cmd))
			assert.Equal(t, tt.expected, target.Calls())
		})
	}
}

func TestApply_Rejects(t *testing.T) {
	target := &recordingTarget{}
	assert.ErrorIs(t, Apply(target, Command{Op: "explode"}), ErrUnknownOp)
	assert.ErrorIs(t, Apply(target, Command{Op: OpCancel}), ErrNoJobs)
	assert.Empty(t, target.Calls())
}

func newClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func serve(t *testing.T, mr *miniredis.Miniredis, client redis.UniversalClient, target Target) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, client, testChannel, target, zerolog.Nop()) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("Serve did not return")
		}
	})
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(testChannel)[testChannel] == 1
	}, waitFor, tick)
}

func TestPublish_NoListener(t *testing.T) {
	_, client := newClient(t)
	err := Publish(context.Background(), client, testChannel, Command{Op: OpPause})
	assert.ErrorIs(t, err, ErrNoListener)
}

func TestServe_AppliesCommands(t *testing.T) {
	mr, client := newClient(t)
	target := &recordingTarget{}
	serve(t, mr, client, target)
	ctx := context.Background()

	no := false
	require.NoError(t, Publish(ctx, client, testChannel, Command{Op: OpEnqueue, IDs: []string{"job-1"}}))
	mr.Publish(testChannel, "not json")
	require.NoError(t, Publish(ctx, client, testChannel, Command{Op: "explode"}))
	require.NoError(t, Publish(ctx, client, testChannel, Command{Op: OpStart, IDs: []string{"job-2"}, Overrides: &model.Overrides{ForceAudio: &no}}))
	require.NoError(t, Publish(ctx, client, testChannel, Command{Op: OpPause}))

	expected := []string{"enqueue:job-1", "start:job-2:audio=false", "paused:true"}
	require.Eventually(t, func() bool {
		return len(target.Calls()) == len(expected)
	}, waitFor, tick)
	assert.Equal(t, expected, target.Calls())
}

// holdingExecutor runs until its context is canceled
type holdingExecutor struct {
	started chan string
}

func (e *holdingExecutor) Execute(ctx context.Context, job *model.Job, _ model.Overrides) model.Outcome {
	e.started <- job.ID
	<-ctx.Done()
	return model.Outcome{Err: ctx.Err()}
}

func TestServe_DrivesRunningScheduler(t *testing.T) {
	mr, client := newClient(t)
	ctx := context.Background()

	jobs := store.NewMemoryStore()
	exec := &holdingExecutor{started: make(chan string, 4)}
	settings := &config.StaticProvider{Settings: config.Settings{MaxParallel: 2, DownloadAutomatically: true}}
	mgr, err := download.NewManager(jobs, exec, settings, nil, zerolog.Nop())
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- mgr.Run(runCtx) }()
	t.Cleanup(func() {
		stop()
		<-runDone
	})
	serve(t, mr, client, mgr)

	// created by another process after the scheduler started
	id, err := jobs.Create(ctx, &model.Job{Link: "https://youtu.be/late", Status: model.StatusQueued})
	require.NoError(t, err)

	require.NoError(t, Publish(ctx, client, testChannel, Command{Op: OpEnqueue, IDs: []string{id}}))
	select {
	case got := <-exec.started:
		assert.Equal(t, id, got)
	case <-time.After(waitFor):
		t.Fatal("queued job was not picked up")
	}

	require.NoError(t, Publish(ctx, client, testChannel, Command{Op: OpCancel, IDs: []string{id}}))
	require.Eventually(t, func() bool {
		job, err := jobs.Find(ctx, id)
		return err == nil && job.Status == model.StatusCanceled
	}, waitFor, tick)

	snap, err := mgr.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Active)
	assert.Empty(t, snap.Queue)
}
