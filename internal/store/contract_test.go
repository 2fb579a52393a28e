package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/clipqueue/internal/model"
)

// testStoreContract runs the behaviour every Store implementation shares
func testStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create fills defaults", func(t *testing.T) {
		s := open(t)
		id, err := s.Create(ctx, &model.Job{Link: "https://www.tiktok.com/@alice/video/123"})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		job, err := s.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.PlatformTikTok, job.Platform)
		assert.Equal(t, model.MediaVideo, job.Media)
		assert.Equal(t, model.OriginManual, job.Origin)
		assert.Equal(t, model.UnknownHandle, job.Handle)
		assert.Equal(t, "123", job.Name)
		assert.Equal(t, model.OutputDefault, job.OutputFormat)
		assert.Equal(t, model.StatusBacklog, job.Status)
		assert.False(t, job.CreatedAt.IsZero())
	})

	t.Run("create derives instagram handle", func(t *testing.T) {
		s := open(t)
		id, err := s.Create(ctx, &model.Job{Link: "https://www.instagram.com/alice/reel/abc123/"})
		require.NoError(t, err)

		job, err := s.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "alice", job.Handle)
		assert.Equal(t, "abc123", job.Name)
	})

	t.Run("find unknown", func(t *testing.T) {
		s := open(t)
		_, err := s.Find(ctx, "job-missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("set status reports change", func(t *testing.T) {
		s := open(t)
		id, err := s.Create(ctx, &model.Job{Link: "https://youtu.be/abc"})
		require.NoError(t, err)

		changed, err := s.SetStatus(ctx, id, model.StatusQueued)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.SetStatus(ctx, id, model.StatusQueued)
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = s.SetStatus(ctx, "job-missing", model.StatusQueued)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("mark done", func(t *testing.T) {
		s := open(t)
		id, err := s.Create(ctx, &model.Job{Link: "https://youtu.be/abc", Status: model.StatusDownloading})
		require.NoError(t, err)

		require.NoError(t, s.MarkDone(ctx, id, "/tmp/out/abc.mp4"))
		job, err := s.Find(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDone, job.Status)
		assert.Equal(t, "/tmp/out/abc.mp4", job.Path)
		assert.False(t, job.CompletedAt.IsZero())

		assert.ErrorIs(t, s.MarkDone(ctx, "job-missing", "x"), model.ErrNotFound)
	})

	t.Run("find by link normalizes", func(t *testing.T) {
		s := open(t)
		first, err := s.Create(ctx, &model.Job{
			Link:      "https://www.instagram.com/reel/XYZ/?igsh=abc",
			CreatedAt: base,
		})
		require.NoError(t, err)
		_, err = s.Create(ctx, &model.Job{
			Link:      "https://www.instagram.com/reel/XYZ/",
			CreatedAt: base.Add(time.Minute),
		})
		require.NoError(t, err)

		job, err := s.FindByLink(ctx, "https://www.instagram.com/reel/XYZ")
		require.NoError(t, err)
		assert.Equal(t, first, job.ID)

		_, err = s.FindByLink(ctx, "https://www.instagram.com/reel/OTHER/")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("find by link after delete", func(t *testing.T) {
		s := open(t)
		first, err := s.Create(ctx, &model.Job{Link: "https://youtu.be/dup", CreatedAt: base})
		require.NoError(t, err)
		second, err := s.Create(ctx, &model.Job{Link: "https://youtu.be/dup", CreatedAt: base.Add(time.Second)})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, first))
		job, err := s.FindByLink(ctx, "https://youtu.be/dup")
		require.NoError(t, err)
		assert.Equal(t, second, job.ID)
	})

	t.Run("list filters and orders", func(t *testing.T) {
		s := open(t)
		jobs := []*model.Job{
			{ID: "job-c", Link: "https://www.tiktok.com/@bob/video/3", Handle: "bob", Origin: model.OriginProfile, CreatedAt: base.Add(2 * time.Second)},
			{ID: "job-a", Link: "https://www.tiktok.com/@bob/video/1", Handle: "bob", Origin: model.OriginProfile, CreatedAt: base},
			{ID: "job-b", Link: "https://youtu.be/2", Handle: "carol", Status: model.StatusQueued, CreatedAt: base.Add(time.Second)},
		}
		for _, j := range jobs {
			_, err := s.Create(ctx, j)
			require.NoError(t, err)
		}

		all, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"job-a", "job-b", "job-c"}, jobIDs(all))

		bob, err := s.List(ctx, Filter{Platform: model.PlatformTikTok, Handle: "BOB"})
		require.NoError(t, err)
		assert.Equal(t, []string{"job-a", "job-c"}, jobIDs(bob))

		queued, err := s.List(ctx, StatusFilter(model.StatusQueued))
		require.NoError(t, err)
		assert.Equal(t, []string{"job-b"}, jobIDs(queued))
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, &model.Job{ID: "job-x", Link: "https://youtu.be/1"})
		require.NoError(t, err)
		_, err = s.Create(ctx, &model.Job{ID: "job-x", Link: "https://youtu.be/2"})
		assert.Error(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		id, err := s.Create(ctx, &model.Job{Link: "https://youtu.be/1"})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, id))

		_, err = s.Find(ctx, id)
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, id), model.ErrNotFound)
	})

	t.Run("reset stale", func(t *testing.T) {
		s := open(t)
		statuses := []model.Status{model.StatusDownloading, model.StatusDownloading, model.StatusDone, model.StatusBacklog}
		ids := make([]string, len(statuses))
		for i, st := range statuses {
			id, err := s.Create(ctx, &model.Job{Link: "https://youtu.be/r", Status: st, CreatedAt: base.Add(time.Duration(i) * time.Second)})
			require.NoError(t, err)
			ids[i] = id
		}

		n, err := s.ResetStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		want := []model.Status{model.StatusQueued, model.StatusQueued, model.StatusDone, model.StatusBacklog}
		for i, id := range ids {
			job, err := s.Find(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want[i], job.Status, id)
		}
	})
}

func jobIDs(jobs []*model.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
