package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans events out to the configured sinks from a single
// dispatch goroutine so publishers never block on sink I/O.
type Router struct {
	cfg         Config
	queue       chan Event
	sinks       []NamedSink
	clock       Clock
	fallback    *log.Logger
	fields      map[string]any
	minSeverity Severity

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	lastDropLog  atomic.Int64
}

type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
}

func NewRouter(cfg Config, clock Clock, fallback *log.Logger, sinks map[string]Sink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}

	r := &Router{
		cfg:         cfg,
		queue:       make(chan Event, bufferSize),
		clock:       clock,
		fallback:    fallback,
		fields:      cfg.CloneFields(),
		minSeverity: cfg.MinimumSeverity,
		done:        make(chan struct{}),
	}

	for _, name := range cfg.EnabledSinks {
		sink, ok := sinks[name]
		if !ok || sink == nil {
			return nil, fmt.Errorf("logging: sink %q enabled but not provided", name)
		}
		r.sinks = append(r.sinks, NamedSink{Name: name, Sink: sink})
	}

	go r.dispatch()
	return r, nil
}

// Publish enqueues an event, stamping time and shared fields. Events
// below the minimum severity or arriving on a full queue are dropped.
func (r *Router) Publish(_ context.Context, event Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) > 0 {
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		for k, v := range r.fields {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
	}

	select {
	case r.queue <- event:
		r.eventsTotal.Add(1)
	default:
		dropped := r.droppedTotal.Add(1)
		r.warnDrop(dropped)
	}
}

// Close drains the queue, flushes every sink, and stops the dispatch
// goroutine. Safe to call more than once.
func (r *Router) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.queue)
		select {
		case <-r.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		for _, named := range r.sinks {
			if cerr := named.Sink.Close(ctx); cerr != nil && err == nil {
				err = fmt.Errorf("logging: close sink %q: %w", named.Name, cerr)
			}
		}
	})
	return err
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
	}
}

func (r *Router) Clock() Clock {
	return r.clock
}

func (r *Router) dispatch() {
	defer close(r.done)
	for event := range r.queue {
		for _, named := range r.sinks {
			if err := named.Sink.Write(event); err != nil {
				r.fallback.Printf("sink %q write failed: %v", named.Name, err)
			}
		}
	}
}

func (r *Router) warnDrop(total uint64) {
	interval := r.cfg.DropWarnInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := r.clock.Now().UnixNano()
	last := r.lastDropLog.Load()
	if now-last < int64(interval) {
		return
	}
	if r.lastDropLog.CompareAndSwap(last, now) {
		r.fallback.Printf("event queue full, dropped %d events total", total)
	}
}
