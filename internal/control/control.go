// Package control carries scheduler commands between processes over Redis
// pub/sub. A running scheduler serves a channel and other clipq invocations
// publish to it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ytget/clipqueue/internal/model"
)

// Operations
const (
	OpEnqueue = "enqueue"
	OpBacklog = "backlog"
	OpCancel  = "cancel"
	OpStart   = "start"
	OpPause   = "pause"
	OpResume  = "resume"
	OpRefresh = "refresh"
)

var (
	// ErrNoListener is returned by Publish when no scheduler received the command
	ErrNoListener = errors.New("no scheduler is listening")
	// ErrUnknownOp is returned for commands with an unsupported op
	ErrUnknownOp = errors.New("unknown control op")
	// ErrNoJobs is returned for job commands without ids
	ErrNoJobs = errors.New("no job ids")
)

// Command is the wire form of a scheduler request
type Command struct {
	Op        string           `json:"op"`
	IDs       []string         `json:"ids,omitempty"`
	Overrides *model.Overrides `json:"overrides,omitempty"`
}

// Target receives decoded commands. download.Manager implements it.
type Target interface {
	Enqueue(ids ...string) error
	MoveToBacklog(ids ...string) error
	Cancel(id string) error
	StartNow(id string, ov *model.Overrides) error
	SetPaused(paused bool) error
	RefreshSettings() error
}

// Apply forwards cmd to t
func Apply(t Target, cmd Command) error {
	switch cmd.Op {
	case OpEnqueue, OpBacklog, OpCancel, OpStart:
		if len(cmd.IDs) == 0 {
			return fmt.Errorf("%s: %w", cmd.Op, ErrNoJobs)
		}
	}

	switch cmd.Op {
	case OpEnqueue:
		return t.Enqueue(cmd.IDs...)
	case OpBacklog:
		return t.MoveToBacklog(cmd.IDs...)
	case OpCancel:
		var errs []error
		for _, id := range cmd.IDs {
			errs = append(errs, t.Cancel(id))
		}
		return errors.Join(errs...)
	case OpStart:
		var errs []error
		for _, id := range cmd.IDs {
			errs = append(errs, t.StartNow(id, cmd.Overrides))
		}
		return errors.Join(errs...)
	case OpPause:
		return t.SetPaused(true)
	case OpResume:
		return t.SetPaused(false)
	case OpRefresh:
		return t.RefreshSettings()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
}

// Publish sends cmd on channel. It fails with ErrNoListener when nobody is
// subscribed.
func Publish(ctx context.Context, client redis.UniversalClient, channel string, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	n, err := client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	if n == 0 {
		return fmt.Errorf("%w on %s", ErrNoListener, channel)
	}
	return nil
}

// Serve applies commands published on channel to t until ctx is done.
// Malformed or rejected commands are logged and skipped.
func Serve(ctx context.Context, client redis.UniversalClient, channel string, t Target, logger zerolog.Logger) error {
	log := logger.With().Str("component", "control").Str("channel", channel).Logger()

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	log.Info().Msg("accepting scheduler commands")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var cmd Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				log.Warn().Err(err).Msg("malformed command")
				continue
			}
			if err := Apply(t, cmd); err != nil {
				log.Warn().Err(err).Str("op", cmd.Op).Strs("ids", cmd.IDs).Msg("command rejected")
				continue
			}
			log.Debug().Str("op", cmd.Op).Strs("ids", cmd.IDs).Msg("command applied")
		}
	}
}
