// Package service wires the pipeline together: the Controller owns all live
// market state in a single goroutine and the Dispatcher fans the resulting view
// models out to consumers.
//
// The dispatcher delivers every published view to each subscriber while
// handling slow clients gracefully: a subscriber that falls behind loses its
// oldest buffered view, never the newest.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"delaycast/internal/view"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultSubscriberBuffer = 16

// Subscriber is one consumer of view updates.
type Subscriber struct {
	id uuid.UUID
	ch chan view.ViewModel
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string {
	return s.id.String()
}

// Updates returns the channel views are delivered on. It is closed on
// unsubscribe and on dispatcher shutdown.
func (s *Subscriber) Updates() <-chan view.ViewModel {
	return s.ch
}

// DispatcherConfig holds configuration parameters for the Dispatcher.
type DispatcherConfig struct {
	MaxSubscribers int // Zero means unlimited
	BufferSize     int // Per-subscriber buffer, defaults to 16
}

// Dispatcher implements a fan-out distribution system for view models.
//
// A single goroutine owns the subscribers map and the last published view, so
// no mutex is needed. New subscribers receive the last view immediately.
// Subscribe and unsubscribe requests share one channel so they are applied in
// the order they were made.
type Dispatcher struct {
	cfg          DispatcherConfig
	subscribers  map[uuid.UUID]*Subscriber
	membershipCh chan membership
	started      atomic.Bool
	count        atomic.Int64
	last         *view.ViewModel
}

type membership struct {
	sub *Subscriber
	add bool
}

// NewDispatcher creates a new Dispatcher instance with the provided configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultSubscriberBuffer
	}
	return &Dispatcher{
		cfg:          cfg,
		subscribers:  make(map[uuid.UUID]*Subscriber),
		membershipCh: make(chan membership, 32),
	}
}

// Subscribe registers a new subscriber.
func (b *Dispatcher) Subscribe() (*Subscriber, error) {
	if !b.started.Load() {
		return nil, errors.New("dispatcher not started")
	}

	if b.cfg.MaxSubscribers > 0 && b.count.Load() >= int64(b.cfg.MaxSubscribers) {
		return nil, fmt.Errorf("too many subscribers: maximum %d", b.cfg.MaxSubscribers)
	}

	sub := &Subscriber{
		id: uuid.New(),
		ch: make(chan view.ViewModel, b.cfg.BufferSize),
	}

	select {
	case b.membershipCh <- membership{sub: sub, add: true}:
	default:
		return nil, fmt.Errorf("subscription channel is full")
	}
	b.count.Add(1)

	return sub, nil
}

// Unsubscribe removes a subscriber from the dispatcher.
func (b *Dispatcher) Unsubscribe(sub *Subscriber) error {
	if sub == nil {
		return errors.New("subscriber cannot be nil")
	}
	select {
	case b.membershipCh <- membership{sub: sub}:
		return nil
	default:
		return fmt.Errorf("unsubscription channel is full")
	}
}

func (b *Dispatcher) subscribe(sub *Subscriber) {
	b.subscribers[sub.id] = sub
	if b.last != nil {
		sub.ch <- *b.last
	}
	log.Debug().Str("subscriber", sub.ID()).Int("subscribers", len(b.subscribers)).Msg("subscriber added")
}

func (b *Dispatcher) unsubscribe(sub *Subscriber) {
	if _, ok := b.subscribers[sub.id]; ok {
		delete(b.subscribers, sub.id)
		close(sub.ch)
		b.count.Add(-1)
		log.Debug().Str("subscriber", sub.ID()).Int("subscribers", len(b.subscribers)).Msg("subscriber removed")
	}
}

// StartDispatching starts the goroutine that owns subscriber management and
// delivers every view received on viewCh. It stops when ctx is cancelled or
// viewCh is closed, closing all subscriber channels.
func (b *Dispatcher) StartDispatching(ctx context.Context, viewCh <-chan view.ViewModel) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer func() {
			for _, sub := range b.subscribers {
				close(sub.ch)
			}
			b.subscribers = make(map[uuid.UUID]*Subscriber)
			b.count.Store(0)
			b.started.Store(false)
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("dispatcher stopped")
				return
			case m := <-b.membershipCh:
				if m.add {
					b.subscribe(m.sub)
				} else {
					b.unsubscribe(m.sub)
				}
			case vm, ok := <-viewCh:
				if !ok {
					log.Info().Msg("view channel closed, dispatcher stopped")
					return
				}
				b.dispatch(vm)
			}
		}
	}()
	return nil
}

// dispatch delivers vm to every subscriber. A full subscriber buffer drops
// its oldest view to make room.
func (b *Dispatcher) dispatch(vm view.ViewModel) {
	b.last = &vm
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- vm:
		default:
			log.Debug().Str("subscriber", sub.ID()).Msg("subscriber is too slow, dropping oldest buffered view")
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- vm
		}
	}
}
