// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/gcbridge/coordinator"
	"github.com/bureau-foundation/gcbridge/lib/clock"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
	"github.com/bureau-foundation/gcbridge/lib/failure"
)

// DefaultTimeout bounds one fetch when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// ErrClosed is wrapped by fetches that are pending or issued after
// Close.
var ErrClosed = errors.New("profile correlator closed")

var identifierPattern = regexp.MustCompile(`^[0-9]{17}$`)

// ValidIdentifier reports whether identifier has the 17-digit shape.
func ValidIdentifier(identifier string) bool {
	return identifierPattern.MatchString(identifier)
}

// Readiness reports whether the coordinator accepts requests.
type Readiness interface {
	IsReady() bool
}

// Config configures a Correlator.
type Config struct {
	// Client sends requests and delivers responses. Required.
	Client coordinator.Client

	// Readiness gates Fetch. Required.
	Readiness Readiness

	// Timeout bounds each fetch. Default 30s.
	Timeout time.Duration

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Correlator matches profile requests with their responses.
type Correlator struct {
	client    coordinator.Client
	readiness Readiness
	timeout   time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	dropped atomic.Uint64

	mu           sync.Mutex
	pending      map[string][]*pendingFetch
	subscription *eventhub.Subscription[coordinator.Event]
	loopDone     chan struct{}
	closed       bool
}

// pendingFetch is one in-flight Fetch. Whoever removes it from the
// registry sends exactly one result.
type pendingFetch struct {
	result chan fetchResult
}

type fetchResult struct {
	record Record
	err    error
}

// NewCorrelator validates config.
func NewCorrelator(config Config) (*Correlator, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("profile: Client is required")
	}
	if config.Readiness == nil {
		return nil, fmt.Errorf("profile: Readiness is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("profile: Logger is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Correlator{
		client:    config.Client,
		readiness: config.Readiness,
		timeout:   config.Timeout,
		clock:     config.Clock,
		logger:    config.Logger.With("component", "profile"),
		pending:   make(map[string][]*pendingFetch),
	}, nil
}

// Start subscribes to profile responses and starts the dispatch loop.
func (c *Correlator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscription != nil || c.closed {
		return
	}
	c.subscription = c.client.Subscribe()
	c.loopDone = make(chan struct{})
	go c.run(c.subscription, c.loopDone)
}

// Close stops dispatch and fails every pending fetch with ErrClosed.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subscription, loopDone := c.subscription, c.loopDone
	pending := c.pending
	c.pending = make(map[string][]*pendingFetch)
	c.mu.Unlock()

	if subscription != nil {
		subscription.Close()
		<-loopDone
	}
	for _, queue := range pending {
		for _, fetch := range queue {
			fetch.result <- fetchResult{err: failure.Wrap(failure.KindNotReady, ErrClosed)}
		}
	}
}

// Pending returns the number of in-flight fetches.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, queue := range c.pending {
		count += len(queue)
	}
	return count
}

// Dropped returns the number of responses that arrived with no
// pending fetch.
func (c *Correlator) Dropped() uint64 {
	return c.dropped.Load()
}

// Fetch requests the profile for identifier and waits for its
// response. Errors carry failure kinds: InvalidInput for a malformed
// identifier, NotReady when the coordinator is not connected, and
// RequestTimeout when no response arrives in time. Send failures are
// returned as the client reported them.
func (c *Correlator) Fetch(ctx context.Context, identifier string) (Record, error) {
	if !ValidIdentifier(identifier) {
		return Record{}, failure.InvalidInput("invalid profile identifier %q: want 17 digits", identifier)
	}
	if !c.readiness.IsReady() {
		return Record{}, failure.NotReady("coordinator is not connected")
	}

	fetch := &pendingFetch{result: make(chan fetchResult, 1)}
	if err := c.register(identifier, fetch); err != nil {
		return Record{}, err
	}

	timer := c.clock.AfterFunc(c.timeout, func() {
		if c.deregister(identifier, fetch) {
			fetch.result <- fetchResult{err: failure.RequestTimeout("no profile response for %s within %s", identifier, c.timeout)}
		}
	})
	defer timer.Stop()

	if err := c.client.RequestPlayersProfile(ctx, identifier); err != nil {
		if c.deregister(identifier, fetch) {
			return Record{}, fmt.Errorf("requesting profile %s: %w", identifier, err)
		}
		// Settled concurrently by a timeout or Close.
		result := <-fetch.result
		return result.record, result.err
	}
	c.logger.Debug("profile requested", "identifier", identifier)

	select {
	case result := <-fetch.result:
		return result.record, result.err
	case <-ctx.Done():
		if c.deregister(identifier, fetch) {
			return Record{}, ctx.Err()
		}
		result := <-fetch.result
		return result.record, result.err
	}
}

func (c *Correlator) register(identifier string, fetch *pendingFetch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return failure.Wrap(failure.KindNotReady, ErrClosed)
	}
	c.pending[identifier] = append(c.pending[identifier], fetch)
	return nil
}

// deregister removes fetch and reports whether it was still pending.
func (c *Correlator) deregister(identifier string, fetch *pendingFetch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.pending[identifier]
	for index, candidate := range queue {
		if candidate != fetch {
			continue
		}
		queue = append(queue[:index:index], queue[index+1:]...)
		if len(queue) == 0 {
			delete(c.pending, identifier)
		} else {
			c.pending[identifier] = queue
		}
		return true
	}
	return false
}

// takeOldest removes and returns the oldest pending fetch for
// identifier.
func (c *Correlator) takeOldest(identifier string) *pendingFetch {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.pending[identifier]
	if len(queue) == 0 {
		return nil
	}
	fetch := queue[0]
	if len(queue) == 1 {
		delete(c.pending, identifier)
	} else {
		c.pending[identifier] = queue[1:]
	}
	return fetch
}

func (c *Correlator) run(subscription *eventhub.Subscription[coordinator.Event], done chan struct{}) {
	defer close(done)
	for event := range subscription.C {
		if event.Kind != coordinator.EventProfile {
			continue
		}
		c.dispatch(event)
	}
}

func (c *Correlator) dispatch(event coordinator.Event) {
	fetch := c.takeOldest(event.Identifier)
	if fetch == nil {
		c.dropped.Add(1)
		c.logger.Debug("dropping profile response with no pending request", "identifier", event.Identifier)
		return
	}
	record, err := Normalize(event.Identifier, event.Profile, c.clock.Now())
	if err != nil {
		c.logger.Warn("malformed profile response", "identifier", event.Identifier, "error", err)
	}
	fetch.result <- fetchResult{record: record, err: err}
}
