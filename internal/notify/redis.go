package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ytget/clipqueue/internal/model"
)

const (
	publishBuffer  = 256
	publishTimeout = 2 * time.Second
)

// RedisPublisher publishes events as JSON on a pub/sub channel. A single
// background goroutine does the network work.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  zerolog.Logger

	queue     chan model.Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRedisPublisher starts the publishing goroutine. Call Close to flush
// and stop it.
func NewRedisPublisher(client redis.UniversalClient, channel string, logger zerolog.Logger) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "publisher").Logger(),
		queue:   make(chan model.Event, publishBuffer),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Notify implements Sink. Events are dropped when the queue is full or the
// publisher is closed.
func (p *RedisPublisher) Notify(ev model.Event) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- ev:
	case <-p.done:
	default:
		p.logger.Warn().Str("job", ev.JobID).Msg("event queue full, dropping event")
	}
}

// Close publishes what is queued and stops the goroutine
func (p *RedisPublisher) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *RedisPublisher) loop() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.queue:
					p.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *RedisPublisher) publish(ev model.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("channel", p.channel).Msg("failed to publish event")
	}
}

// Subscribe calls fn for every event published on channel until ctx is done
func Subscribe(ctx context.Context, client redis.UniversalClient, channel string, fn func(model.Event)) error {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			fn(ev)
		}
	}
}
