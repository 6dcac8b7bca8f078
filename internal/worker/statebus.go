package worker

import (
	"sync"
	"time"

	"github.com/diitku/diitku-offline/internal/logger"
)

// StateChange reports one lifecycle transition.
type StateChange struct {
	Version   string    `json:"version"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateHandler receives state changes.
type StateHandler func(change *StateChange)

// stateBusBufferSize is the capacity of the async change channel.
// Changes are dropped if the buffer is full.
const stateBusBufferSize = 64

// StateBus is an async pub/sub for state changes. Publish never blocks the
// lifecycle: changes go to a buffered channel drained by one goroutine.
type StateBus struct {
	handlers []StateHandler
	mu       sync.RWMutex
	ch       chan *StateChange
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	log      logger.Logger
}

// NewStateBus creates a bus and starts its goroutine.
func NewStateBus(log logger.Logger) *StateBus {
	b := &StateBus{
		ch:     make(chan *StateChange, stateBusBufferSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		log:    log,
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *StateBus) Subscribe(handler StateHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues a change. Changes published after Stop are discarded.
func (b *StateBus) Publish(change *StateChange) {
	select {
	case <-b.stopCh:
		return
	default:
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}
	select {
	case b.ch <- change:
	default:
		b.log.Warn("state change dropped, bus full",
			logger.String("from", string(change.From)),
			logger.String("to", string(change.To)))
	}
}

// Stop drains pending changes and waits for the goroutine to exit. Safe to
// call more than once.
func (b *StateBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.done
}

func (b *StateBus) processLoop() {
	defer close(b.done)
	for {
		select {
		case change := <-b.ch:
			b.dispatch(change)
		case <-b.stopCh:
			for {
				select {
				case change := <-b.ch:
					b.dispatch(change)
				default:
					return
				}
			}
		}
	}
}

func (b *StateBus) dispatch(change *StateChange) {
	b.mu.RLock()
	handlers := make([]StateHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, change)
	}
}

// safeCall keeps a panicking handler from killing the bus goroutine.
func (b *StateBus) safeCall(h StateHandler, change *StateChange) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("state handler panicked",
				logger.Any("panic", r),
				logger.String("to", string(change.To)))
		}
	}()
	h(change)
}
