package feed

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/video2commons/relay/src/types"
)

// Listener subscribes to the two Redis feeds carrying task mutations: the
// keyspace-notification pattern for task-result keys, and the explicit
// application notification channel. Parsed events are pushed to Events.
//
// Both feeds are best-effort: nothing is replayed after an outage, and a
// full event buffer drops. Clients cover the gap with the status polling
// fallback.
type Listener struct {
	client *redis.Client
	parser Parser
	events chan types.ChangeEvent
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewListener creates a feed listener over the given Redis client.
func NewListener(client *redis.Client, parser Parser, logger zerolog.Logger) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		client: client,
		parser: parser,
		events: make(chan types.ChangeEvent, 256),
		logger: logger.With().Str("component", "feed").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events returns the parsed change-event stream, in feed delivery order per
// subscription.
func (l *Listener) Events() <-chan types.ChangeEvent { return l.events }

// Start verifies the Redis connection and launches both subscriptions.
func (l *Listener) Start() error {
	if err := l.client.Ping(l.ctx).Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.active = true
	l.mu.Unlock()

	l.wg.Add(2)
	go l.subscribeLoop("__keyspace@*__:*", l.handleKeyspace)
	go l.subscribeLoop(l.parser.NotifPattern(), l.handleNotif)

	l.logger.Info().Msg("feed listener started")
	return nil
}

// Stop cancels both subscriptions and waits for them to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}

// Available reports whether the listener is running.
func (l *Listener) Available() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// subscribeLoop maintains one pattern subscription for the listener's
// lifetime. Establishment failures are retried with exponential backoff;
// events missed while resubscribing are lost by contract.
func (l *Listener) subscribeLoop(pattern string, handle func(channel, payload string)) {
	defer l.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry forever

	for l.ctx.Err() == nil {
		sub := l.client.PSubscribe(l.ctx, pattern)
		if _, err := sub.Receive(l.ctx); err != nil {
			sub.Close()
			if l.ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			l.logger.Warn().Err(err).Str("pattern", pattern).
				Dur("retry_in", wait).Msg("subscribe failed")
			select {
			case <-time.After(wait):
			case <-l.ctx.Done():
				return
			}
			continue
		}
		bo.Reset()
		l.logger.Info().Str("pattern", pattern).Msg("subscribed")

		l.consume(sub, handle)
		sub.Close()
	}
}

func (l *Listener) consume(sub *redis.PubSub, handle func(channel, payload string)) {
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handle(msg.Channel, msg.Payload)
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *Listener) handleKeyspace(channel, payload string) {
	ev, ok := l.parser.ParseKeyspace(channel, payload)
	if !ok {
		return
	}
	l.emit(ev)
}

func (l *Listener) handleNotif(channel, payload string) {
	ev, err := l.parser.ParseNotif(channel, payload)
	if err != nil {
		l.logger.Warn().Err(err).Str("channel", channel).Msg("dropping malformed notification")
		return
	}
	l.emit(ev)
}

func (l *Listener) emit(ev types.ChangeEvent) {
	select {
	case l.events <- ev:
	default:
		l.logger.Warn().Str("taskid", ev.TaskID).Str("kind", string(ev.Kind)).
			Msg("event buffer full, dropping")
	}
}
