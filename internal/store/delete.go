package store

import (
	"context"
	"fmt"

	"github.com/ytget/clipqueue/internal/config"
	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/platform"
)

// CollectionLabel names the collection a job belongs to, e.g. "profile - alice"
func CollectionLabel(origin model.Origin, handle string) string {
	return model.CollectionLabel(origin, handle)
}

// DeleteResult summarizes a DeleteJobs call
type DeleteResult struct {
	Deleted      int
	FilesRemoved int
	Errors       []error
}

// DeleteJobs removes every job matching filter. In hard mode the fetched
// file of each job is removed as well. Failures on single jobs are collected
// and do not stop the sweep.
func DeleteJobs(ctx context.Context, s Store, filter Filter, mode string) (DeleteResult, error) {
	var res DeleteResult

	jobs, err := s.List(ctx, filter)
	if err != nil {
		return res, err
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if mode == config.DeleteHard && job.Path != "" {
			path := job.Path
			if resolved, err := platform.FindFileWithFallback(path); err == nil {
				path = resolved
			}
			if err := platform.RemoveFileIfExists(path); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("remove file for %s: %w", job.ID, err))
			} else {
				res.FilesRemoved++
			}
		}
		if err := s.Delete(ctx, job.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("delete %s: %w", job.ID, err))
			continue
		}
		res.Deleted++
	}
	return res, nil
}
