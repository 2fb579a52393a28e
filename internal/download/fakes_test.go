package download

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/ytget/clipqueue/internal/fetch"
	"github.com/ytget/clipqueue/internal/model"
)

// toolStep scripts one tool invocation for a credential argument
type toolStep struct {
	result fetch.ToolResult
	err    error
	// files are created relative to the request's OutputDir before returning
	files []string
	// progress samples sent through the request callback
	progress []fetch.ProgressUpdate
}

type fakeVideo struct {
	mu       sync.Mutex
	steps    map[string]toolStep
	requests []fetch.VideoRequest
}

func (f *fakeVideo) FetchVideo(ctx context.Context, req fetch.VideoRequest) (fetch.ToolResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	step, ok := f.steps[req.Credential]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fetch.ToolResult{}, err
	}
	if !ok {
		return fetch.ToolResult{ExitCode: 1}, &model.ToolError{Tool: "yt-dlp", Err: model.ErrToolFailure}
	}
	for _, p := range step.progress {
		if req.Progress != nil {
			req.Progress(p)
		}
	}
	if err := writeFiles(req.OutputDir, step.files); err != nil {
		return fetch.ToolResult{}, err
	}
	return step.result, step.err
}

func (f *fakeVideo) calls() []fetch.VideoRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetch.VideoRequest(nil), f.requests...)
}

type fakeImages struct {
	mu       sync.Mutex
	steps    map[string]toolStep
	requests []fetch.ImageRequest
}

func (f *fakeImages) FetchImages(ctx context.Context, req fetch.ImageRequest) (fetch.ToolResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	step, ok := f.steps[req.Credential]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fetch.ToolResult{}, err
	}
	if !ok {
		return fetch.ToolResult{ExitCode: 1}, &model.ToolError{Tool: "gallery-dl", Err: model.ErrToolFailure}
	}
	if err := writeFiles(req.OutputDir, step.files); err != nil {
		return fetch.ToolResult{}, err
	}
	return step.result, step.err
}

func (f *fakeImages) calls() []fetch.ImageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetch.ImageRequest(nil), f.requests...)
}

func writeFiles(dir string, files []string) error {
	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type staticCreds []model.CredentialProfile

func (s staticCreds) Profiles(context.Context) []model.CredentialProfile {
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Notify(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) messages(id string) []string {
	var out []string
	for _, ev := range r.all() {
		if ev.Kind == model.EventMessage && ev.JobID == id {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (r *recorder) statuses(id string) []model.Status {
	var out []model.Status
	for _, ev := range r.all() {
		if ev.Kind == model.EventStatusChanged && ev.JobID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

// blockingExecutor holds every execution until the test releases it
type blockingExecutor struct {
	mu      sync.Mutex
	gates   map[string]chan model.Outcome
	started chan string
	// ignoreCancel keeps running after abort, like a tool that does not exit
	ignoreCancel bool
	overrides    map[string]model.Overrides
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		gates:     make(map[string]chan model.Outcome),
		started:   make(chan string, 64),
		overrides: make(map[string]model.Overrides),
	}
}

func (b *blockingExecutor) gate(id string) chan model.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.gates[id]
	if !ok {
		ch = make(chan model.Outcome, 1)
		b.gates[id] = ch
	}
	return ch
}

func (b *blockingExecutor) Execute(ctx context.Context, job *model.Job, ov model.Overrides) model.Outcome {
	b.mu.Lock()
	b.overrides[job.ID] = ov
	b.mu.Unlock()

	gate := b.gate(job.ID)
	b.started <- job.ID
	if b.ignoreCancel {
		return <-gate
	}
	select {
	case out := <-gate:
		return out
	case <-ctx.Done():
		return model.Outcome{Err: ctx.Err()}
	}
}

func (b *blockingExecutor) release(id string, out model.Outcome) {
	b.gate(id) <- out
}

func (b *blockingExecutor) overridesFor(id string) model.Overrides {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overrides[id]
}
