package download

import (
	"context"

	"github.com/ytget/clipqueue/internal/fetch"
	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/store"
)

// JobStore is the part of store.Store the manager needs
type JobStore interface {
	Find(ctx context.Context, id string) (*model.Job, error)
	FindByLink(ctx context.Context, link string) (*model.Job, error)
	Create(ctx context.Context, job *model.Job) (string, error)
	SetStatus(ctx context.Context, id string, status model.Status) (bool, error)
	MarkDone(ctx context.Context, id, path string) error
	List(ctx context.Context, filter store.Filter) ([]*model.Job, error)
	ResetStale(ctx context.Context) (int, error)
}

// VideoFetcher runs the video tool
type VideoFetcher interface {
	FetchVideo(ctx context.Context, req fetch.VideoRequest) (fetch.ToolResult, error)
}

// ImageFetcher runs the image tool
type ImageFetcher interface {
	FetchImages(ctx context.Context, req fetch.ImageRequest) (fetch.ToolResult, error)
}

// CredentialSource lists the credential profiles to try, in order
type CredentialSource interface {
	Profiles(ctx context.Context) []model.CredentialProfile
}

// Notifier receives job events. Implementations must not block.
type Notifier interface {
	Notify(ev model.Event)
}

// Executor runs one job to completion
type Executor interface {
	Execute(ctx context.Context, job *model.Job, ov model.Overrides) model.Outcome
}
