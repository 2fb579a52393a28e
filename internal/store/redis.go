package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/platform"
)

// Hash fields of a stored job
const (
	fieldID           = "id"
	fieldPlatform     = "platform"
	fieldMedia        = "media"
	fieldOrigin       = "origin"
	fieldHandle       = "handle"
	fieldName         = "name"
	fieldLink         = "link"
	fieldOutputFormat = "output_format"
	fieldStatus       = "status"
	fieldPath         = "path"
	fieldCreatedAt    = "created_at"
	fieldCompletedAt  = "completed_at"
)

// setStatusScript returns -1 for a missing job, 0 when unchanged and 1 when updated
var setStatusScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
if cur == ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1])
return 1
`)

// markDoneScript returns 0 for a missing job
var markDoneScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'path', ARGV[2], 'completed_at', ARGV[3])
return 1
`)

// resetStaleScript walks the job index and rewrites matching statuses
var resetStaleScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  local k = ARGV[1] .. id
  if redis.call('HGET', k, 'status') == ARGV[2] then
    redis.call('HSET', k, 'status', ARGV[3])
    n = n + 1
  end
end
return n
`)

// RedisStore keeps each job in a hash, an index sorted set ordered by
// creation time and a hash from normalized link to job id.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store using keys under prefix
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "clipq"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) jobKey(id string) string { return s.prefix + ":job:" + id }
func (s *RedisStore) jobPrefix() string       { return s.prefix + ":job:" }
func (s *RedisStore) indexKey() string        { return s.prefix + ":jobs" }
func (s *RedisStore) linksKey() string        { return s.prefix + ":links" }

// Create implements Store
func (s *RedisStore) Create(ctx context.Context, job *model.Job) (string, error) {
	c := cloneJob(job)
	prepareJob(c, s.now())

	exists, err := s.client.Exists(ctx, s.jobKey(c.ID)).Result()
	if err != nil {
		return "", fmt.Errorf("redis exists: %w", err)
	}
	if exists > 0 {
		return "", fmt.Errorf("job already exists: %s", c.ID)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.jobKey(c.ID), encodeJob(c))
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(c.CreatedAt.UnixMilli()), Member: c.ID})
		pipe.HSetNX(ctx, s.linksKey(), platform.NormalizeLink(c.Link), c.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis create: %w", err)
	}
	return c.ID, nil
}

// Find implements Store
func (s *RedisStore) Find(ctx context.Context, id string) (*model.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return decodeJob(fields), nil
}

// FindByLink implements Store
func (s *RedisStore) FindByLink(ctx context.Context, link string) (*model.Job, error) {
	key := platform.NormalizeLink(link)
	id, err := s.client.HGet(ctx, s.linksKey(), key).Result()
	switch {
	case err == nil:
		job, err := s.Find(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	// Index miss: the indexed job was deleted while duplicates remain
	jobs, err := s.List(ctx, Filter{Link: link})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, key)
	}
	return jobs[0], nil
}

// SetStatus implements Store
func (s *RedisStore) SetStatus(ctx context.Context, id string, status model.Status) (bool, error) {
	res, err := setStatusScript.Run(ctx, s.client, []string{s.jobKey(id)}, status.Token()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set status: %w", err)
	}
	if res < 0 {
		return false, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return res == 1, nil
}

// MarkDone implements Store
func (s *RedisStore) MarkDone(ctx context.Context, id, path string) error {
	res, err := markDoneScript.Run(ctx, s.client, []string{s.jobKey(id)},
		model.StatusDone.Token(), path, s.now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("redis mark done: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return nil
}

// List implements Store
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*model.Job, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	var out []*model.Job
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job := decodeJob(fields)
		if filter.Match(job) {
			out = append(out, job)
		}
	}
	sortJobs(out)
	return out, nil
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	job, err := s.Find(ctx, id)
	if err != nil {
		return err
	}
	linkKey := platform.NormalizeLink(job.Link)
	indexed, err := s.client.HGet(ctx, s.linksKey(), linkKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis hget: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.jobKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		if indexed == id {
			pipe.HDel(ctx, s.linksKey(), linkKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// ResetStale implements Store
func (s *RedisStore) ResetStale(ctx context.Context) (int, error) {
	n, err := resetStaleScript.Run(ctx, s.client, []string{s.indexKey()},
		s.jobPrefix(), model.StatusDownloading.Token(), model.StatusQueued.Token()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis reset stale: %w", err)
	}
	return n, nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeJob(job *model.Job) map[string]any {
	fields := map[string]any{
		fieldID:           job.ID,
		fieldPlatform:     string(job.Platform),
		fieldMedia:        string(job.Media),
		fieldOrigin:       string(job.Origin),
		fieldHandle:       job.Handle,
		fieldName:         job.Name,
		fieldLink:         job.Link,
		fieldOutputFormat: string(job.OutputFormat),
		fieldStatus:       job.Status.Token(),
		fieldPath:         job.Path,
		fieldCreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldCompletedAt:  "",
	}
	if !job.CompletedAt.IsZero() {
		fields[fieldCompletedAt] = job.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func decodeJob(fields map[string]string) *model.Job {
	job := &model.Job{
		ID:           fields[fieldID],
		Platform:     model.ParsePlatform(fields[fieldPlatform]),
		Media:        model.ParseMediaKind(fields[fieldMedia]),
		Origin:       model.ParseOrigin(fields[fieldOrigin]),
		Handle:       fields[fieldHandle],
		Name:         fields[fieldName],
		Link:         fields[fieldLink],
		OutputFormat: model.ParseOutputFormat(fields[fieldOutputFormat]),
		Status:       model.ParseStatus(fields[fieldStatus]),
		Path:         fields[fieldPath],
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])
	if v := fields[fieldCompletedAt]; v != "" {
		job.CompletedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return job
}
