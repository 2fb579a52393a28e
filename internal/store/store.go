// Package store persists fetch jobs. Three interchangeable implementations
// are provided: an in-process map, Redis and Postgres. Statuses cross the
// store boundary as tokens (model.Status.Token / model.ParseStatus).
package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/platform"
)

// Store is the job persistence contract. Implementations are safe for
// concurrent use.
type Store interface {
	// Create inserts the job and returns its id, generating one when empty
	Create(ctx context.Context, job *model.Job) (string, error)
	// Find returns model.ErrNotFound for unknown ids
	Find(ctx context.Context, id string) (*model.Job, error)
	// FindByLink matches on the normalized link; returns model.ErrNotFound
	FindByLink(ctx context.Context, link string) (*model.Job, error)
	// SetStatus reports whether the stored status changed
	SetStatus(ctx context.Context, id string, status model.Status) (bool, error)
	// MarkDone sets Done, the result path and the completion time
	MarkDone(ctx context.Context, id, path string) error
	// List returns matching jobs ordered by creation time
	List(ctx context.Context, filter Filter) ([]*model.Job, error)
	Delete(ctx context.Context, id string) error
	// ResetStale moves every Downloading job back to Queued
	ResetStale(ctx context.Context) (int, error)
	Close() error
}

// Filter selects jobs. Zero fields match everything.
type Filter struct {
	Platform model.Platform
	Origin   model.Origin
	Handle   string
	Link     string
	Status   *model.Status
}

// StatusFilter is a shorthand for a filter on status only
func StatusFilter(s model.Status) Filter {
	return Filter{Status: &s}
}

// Match reports whether the job satisfies the filter
func (f Filter) Match(job *model.Job) bool {
	if f.Platform != "" && job.Platform != f.Platform {
		return false
	}
	if f.Origin != "" && job.Origin != f.Origin {
		return false
	}
	if f.Handle != "" && !strings.EqualFold(job.Handle, f.Handle) {
		return false
	}
	if f.Link != "" && platform.NormalizeLink(job.Link) != platform.NormalizeLink(f.Link) {
		return false
	}
	if f.Status != nil && job.Status != *f.Status {
		return false
	}
	return true
}

// prepareJob fills defaults before insertion
func prepareJob(job *model.Job, now time.Time) {
	if job.ID == "" {
		job.ID = model.NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.Platform == "" {
		job.Platform = platform.InferPlatform(job.Link)
	}
	if job.Media == "" {
		job.Media = platform.InferMedia(job.Link)
	}
	if job.Origin == "" {
		job.Origin = model.OriginManual
	}
	if job.Handle == "" {
		job.Handle, _ = platform.InstagramHandleAndID(job.Link)
	}
	if job.Handle == "" {
		job.Handle = model.UnknownHandle
	}
	if job.Name == "" {
		job.Name = platform.NameFromLink(job.Link)
	}
	if job.OutputFormat == "" {
		job.OutputFormat = model.OutputDefault
	}
}

func sortJobs(jobs []*model.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

func cloneJob(job *model.Job) *model.Job {
	c := *job
	return &c
}
