// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package share multicasts a cold stream to many subscribers while keeping exactly one
// upstream activation and caching the latest value.
package share

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geoflow/internal/logger"
	"github.com/wneessen/geoflow/internal/telemetry"
	"github.com/wneessen/geoflow/internal/vartype"
)

// DefaultSubscriptionBuffer is the channel size of a Subscription.
const DefaultSubscriptionBuffer = 1

// Collector is a cold stream. Collect blocks and calls fn for every value until ctx is
// cancelled or the stream ends.
type Collector[T any] interface {
	Collect(ctx context.Context, fn func(T)) error
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc[T any] func(ctx context.Context, fn func(T)) error

func (f CollectorFunc[T]) Collect(ctx context.Context, fn func(T)) error {
	return f(ctx, fn)
}

// Stream is a hot, multicast view of a Collector. The upstream is collected only while at
// least one Subscription is attached. The latest value is cached and replayed to every new
// subscriber before any further value.
type Stream[T any] struct {
	upstream Collector[T]
	logger   *logger.Logger
	grace    time.Duration
	buffer   int

	mu         sync.Mutex
	latest     vartype.Variable[T]
	tail       *node[T]
	subs       map[*Subscription[T]]struct{}
	cancel     context.CancelFunc
	upDone     chan struct{}
	lastDone   chan struct{}
	stopTimer  *time.Timer
	stopGen    uint64
	activation uint64
	terminated bool
	err        error
	done       chan struct{}
}

// Option configures a Stream.
type Option func(*options)

type options struct {
	grace  time.Duration
	buffer int
}

// WithGracePeriod keeps the upstream active for d after the last subscriber detached. A new
// subscriber within that window reuses the running upstream.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		o.grace = d
	}
}

// WithSubscriptionBuffer sets the channel size of new subscriptions.
func WithSubscriptionBuffer(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.buffer = size
		}
	}
}

// New returns a Stream sharing upstream.
func New[T any](upstream Collector[T], log *logger.Logger, opts ...Option) (*Stream[T], error) {
	if upstream == nil {
		return nil, errors.New("upstream is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	conf := &options{buffer: DefaultSubscriptionBuffer}
	for _, opt := range opts {
		opt(conf)
	}

	return &Stream[T]{
		upstream: upstream,
		logger:   log,
		grace:    conf.grace,
		buffer:   conf.buffer,
		tail:     newNode[T](),
		subs:     make(map[*Subscription[T]]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Subscribe attaches a new subscriber. Its first value is the cached latest value (unset if
// nothing was received yet), followed by every later value in order. The subscription is
// detached when ctx is cancelled or Unsubscribe is called. Subscribing to a terminated
// Stream returns an already closed Subscription.
func (s *Stream[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := &Subscription[T]{
		stream: s,
		ch:     make(chan vartype.Variable[T], s.buffer),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		sub.once.Do(func() {})
		close(sub.ch)
		close(sub.exited)
		return sub
	}
	latest, head := s.latest, s.tail
	s.subs[sub] = struct{}{}
	telemetry.Observers.Inc()
	if len(s.subs) == 1 {
		s.activateLocked()
	}
	s.mu.Unlock()

	stopAfter := context.AfterFunc(ctx, sub.Unsubscribe)
	go sub.run(stopAfter, latest, head, s.done)
	return sub
}

// Failed returns an already closed Subscription whose Err reports err. It stands in for a
// Stream that could not be created.
func Failed[T any](err error) *Subscription[T] {
	done := make(chan struct{})
	close(done)
	s := &Stream[T]{
		buffer:     DefaultSubscriptionBuffer,
		terminated: true,
		err:        err,
		done:       done,
	}
	return s.Subscribe(context.Background())
}

// Latest returns the cached latest value.
func (s *Stream[T]) Latest() vartype.Variable[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Observers returns the number of attached subscriptions.
func (s *Stream[T]) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Active reports whether the upstream is currently being collected.
func (s *Stream[T]) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Err returns the error the upstream terminated with, if any.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel that is closed once the Stream terminated, either because the
// upstream ended or because Close was called.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Close tears the Stream down. A running upstream is stopped and Close waits until it
// returned. All subscriptions are closed. The cached value stays available via Latest.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.cancelStopLocked()
	s.deactivateLocked()
	wait := s.lastDone
	s.terminateLocked(nil)
	s.mu.Unlock()

	if wait != nil {
		<-wait
	}
	s.logger.Debug("shared stream closed")
}

// activateLocked starts collecting the upstream unless it is still running inside its grace
// period. A new activation waits for the previous one to return before it collects, so at
// most one upstream Collect runs at any time. s.mu must be held.
func (s *Stream[T]) activateLocked() {
	if s.cancel != nil {
		// still running, a pending grace period stop is void now
		s.cancelStopLocked()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	prev := s.lastDone
	s.cancel = cancel
	s.upDone = done
	s.lastDone = done
	s.activation++
	s.logger.Debug("activating upstream", slog.Uint64("activation", s.activation))
	go s.runUpstream(ctx, prev, done)
}

// deactivateLocked cancels the upstream and returns a channel that is closed once it
// returned. It returns nil if the upstream is not running. s.mu must be held.
func (s *Stream[T]) deactivateLocked() <-chan struct{} {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	done := s.upDone
	s.upDone = nil
	s.logger.Debug("deactivating upstream", slog.Uint64("activation", s.activation))
	return done
}

func (s *Stream[T]) cancelStopLocked() {
	s.stopGen++
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
}

func (s *Stream[T]) scheduleStopLocked() {
	s.cancelStopLocked()
	gen := s.stopGen
	s.stopTimer = time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		if gen != s.stopGen || len(s.subs) > 0 || s.terminated {
			s.mu.Unlock()
			return
		}
		s.stopTimer = nil
		wait := s.deactivateLocked()
		s.mu.Unlock()
		if wait != nil {
			<-wait
		}
	})
}

func (s *Stream[T]) runUpstream(ctx context.Context, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		// the previous activation was cancelled already and is removing its registration
		<-prev
	}
	if ctx.Err() != nil {
		return
	}
	err := s.upstream.Collect(ctx, s.publish)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		// deactivated on purpose
		return
	}
	s.cancel = nil
	s.upDone = nil
	s.cancelStopLocked()
	if err != nil {
		s.logger.Error("upstream terminated", logger.Err(err))
	} else {
		s.logger.Debug("upstream completed")
	}
	s.terminateLocked(err)
}

func (s *Stream[T]) publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.latest.Set(v)
	s.tail.publish(v)
	s.tail = s.tail.next
}

// terminateLocked moves the Stream into its terminal state. s.mu must be held.
func (s *Stream[T]) terminateLocked(err error) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.err = err
	telemetry.Observers.Sub(float64(len(s.subs)))
	clear(s.subs)
	close(s.done)
}

func (s *Stream[T]) detach(sub *Subscription[T]) {
	s.mu.Lock()
	if _, ok := s.subs[sub]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, sub)
	telemetry.Observers.Dec()

	var wait <-chan struct{}
	if len(s.subs) == 0 {
		if s.grace > 0 {
			s.scheduleStopLocked()
		} else {
			wait = s.deactivateLocked()
		}
	}
	s.mu.Unlock()

	if wait != nil {
		<-wait
	}
}

// Subscription is a single observer of a Stream.
type Subscription[T any] struct {
	stream *Stream[T]
	ch     chan vartype.Variable[T]
	stop   chan struct{}
	once   sync.Once
	exited chan struct{}
}

// C returns the channel values are delivered on. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan vartype.Variable[T] {
	return s.ch
}

// Err returns the error the Stream terminated with. It is meant to be called after C was
// closed.
func (s *Subscription[T]) Err() error {
	return s.stream.Err()
}

// Unsubscribe detaches the subscription. If it was the last subscriber and no grace period
// is configured, Unsubscribe returns only after the upstream stopped.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		s.stream.detach(s)
	})
}

// Done returns a channel that is closed once the delivery goroutine of the subscription
// exited.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.exited
}

func (s *Subscription[T]) run(stopAfter func() bool, latest vartype.Variable[T], n *node[T],
	done <-chan struct{},
) {
	defer close(s.exited)
	defer close(s.ch)
	defer stopAfter()

	if !s.send(latest) {
		return
	}
	for {
		select {
		case <-s.stop:
			return
		case <-n.ready:
			if !s.send(vartype.NewVariable(n.val)) {
				return
			}
			n = n.next
		case <-done:
			// deliver what was published before the stream terminated
			for {
				select {
				case <-n.ready:
					if !s.send(vartype.NewVariable(n.val)) {
						return
					}
					n = n.next
				default:
					return
				}
			}
		}
	}
}

func (s *Subscription[T]) send(v vartype.Variable[T]) bool {
	select {
	case <-s.stop:
		return false
	case s.ch <- v:
		return true
	}
}
