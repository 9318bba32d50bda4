package dispatch

import (
	"errors"
	"log/slog"
	"sync"

	"atelier/internal/capability"
	"atelier/internal/logging"
)

const queueDepth = 256

// Sink receives events on the dispatcher's consumer goroutine, tagged with
// the epoch that was current when the event arrived from the engine.
type Sink func(epoch uint64, ev capability.Event)

type stamped struct {
	epoch uint64
	gen   uint64
	ev    capability.Event
}

// Dispatcher owns one capability's gateway subscription for the lifetime of
// its controller.
type Dispatcher struct {
	logger *slog.Logger
	epoch  func() uint64
	sink   Sink
	queue  chan stamped
	done   chan struct{}

	mu     sync.Mutex
	sub    capability.Subscription
	gen    uint64
	closed bool

	wg sync.WaitGroup
}

// New creates a dispatcher delivering to sink. The epoch function is sampled
// once per inbound event, at arrival; it must be safe to call from engine
// goroutines.
func New(logger *slog.Logger, epoch func() uint64, sink Sink) *Dispatcher {
	d := &Dispatcher{
		logger: logging.NewComponentLogger(logger, "dispatch"),
		epoch:  epoch,
		sink:   sink,
		queue:  make(chan stamped, queueDepth),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.consume()
	return d
}

// Attach installs the gateway subscription. Calling Attach again replaces the
// previous subscription; if an install races with a concurrent replacement,
// the most recent install wins and the loser is released immediately.
func (d *Dispatcher) Attach(gw capability.Gateway) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("dispatcher closed")
	}
	d.gen++
	gen := d.gen
	prev := d.sub
	d.sub = nil
	d.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	sub, err := gw.Subscribe(func(ev capability.Event) {
		d.enqueue(gen, ev)
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		sub.Close()
		return nil
	}
	d.sub = sub
	d.mu.Unlock()
	return nil
}

// Close tears the subscription down deterministically and stops the consumer
// after the already-queued events have been delivered. Safe to call twice.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(gen uint64, ev capability.Event) {
	d.mu.Lock()
	stale := d.closed || gen != d.gen
	d.mu.Unlock()
	if stale {
		// Superseded subscription; its events must never reach the sink.
		return
	}

	item := stamped{epoch: d.epoch(), gen: gen, ev: ev}
	select {
	case d.queue <- item:
	case <-d.done:
	}
}

func (d *Dispatcher) consume() {
	defer d.wg.Done()
	for {
		select {
		case item := <-d.queue:
			d.deliver(item)
		case <-d.done:
			// Drain what arrived before teardown so delivery stays ordered
			// and deterministic.
			for {
				select {
				case item := <-d.queue:
					d.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(item stamped) {
	d.mu.Lock()
	stale := item.gen != d.gen
	d.mu.Unlock()
	if stale {
		d.logger.Debug("dropping event from superseded subscription",
			logging.Uint64(logging.FieldEpoch, item.epoch),
			logging.String("type", string(item.ev.Type)))
		return
	}
	d.sink(item.epoch, item.ev)
}
