package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devilmonastery/passgate/internal/domain/conversation"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

const (
	queueSize  = 32
	workerIdle = time.Minute
)

// HandlerFunc processes one event of a chat
type HandlerFunc func(ctx context.Context, ev conversation.Event)

// Dispatcher runs one worker per chat so that the events of a chat are handled
// in order while different chats proceed independently. Idle workers exit.
type Dispatcher struct {
	handle HandlerFunc
	idle   time.Duration
	log    *slog.Logger

	mu     sync.Mutex
	queues map[int64]chan conversation.Event
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher calling handle for every event
func NewDispatcher(handle HandlerFunc) *Dispatcher {
	return &Dispatcher{
		handle: handle,
		idle:   workerIdle,
		log:    slog.Default().With(slog.String("component", "dispatcher")),
		queues: make(map[int64]chan conversation.Event),
	}
}

// Dispatch queues ev for its chat, starting a worker if the chat has none.
// It never blocks: when the chat's queue is full the event is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev conversation.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[ev.ChatID]
	if !ok {
		q = make(chan conversation.Event, queueSize)
		d.queues[ev.ChatID] = q
		d.wg.Add(1)
		go d.work(ctx, ev.ChatID, q)
	}

	select {
	case q <- ev:
		return true
	default:
		metrics.BotUpdates.WithLabelValues("dropped").Inc()
		d.log.Warn("chat queue full, dropping event",
			slog.Int64("chat_id", ev.ChatID),
			slog.String("event", ev.Kind.String()))
		return false
	}
}

func (d *Dispatcher) work(ctx context.Context, chatID int64, q chan conversation.Event) {
	defer d.wg.Done()

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q:
			d.handle(ctx, ev)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)
		case <-timer.C:
			if d.retire(chatID, q) {
				return
			}
			timer.Reset(d.idle)
		}
	}
}

// retire removes the queue of an idle chat unless an event arrived meanwhile
func (d *Dispatcher) retire(chatID int64, q chan conversation.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(q) > 0 {
		return false
	}
	delete(d.queues, chatID)
	return true
}

// Workers returns the number of running chat workers
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Wait blocks until every worker has exited. Workers exit when the context
// passed to Dispatch is cancelled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
