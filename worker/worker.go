// Copyright 2026 The Workvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker implements a single request-serving worker.  A worker
// accepts connections from a (possibly shared) listener and hands every
// request to an application http.Handler, bounding each one with a
// timeout.
//
// All request bookkeeping is owned by one loop goroutine.  Admission,
// completion, expiry, drain and termination are events delivered to that
// loop, so every state transition of a request is serialized and the
// outcome of a race between a handler and its timer is decided in exactly
// one place.  Application code runs on its own goroutine and is expected
// to honor cancellation of the request context.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/net/netutil"
	"k8s.io/utils/clock"
)

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrBadPolicy      = errors.New("unknown timeout policy")
	ErrRunning        = errors.New("worker already running")
	ErrStopped        = errors.New("worker stopped")
)

// TimeoutPolicy selects what a client sees when its request times out.
type TimeoutPolicy string

const (
	// PolicyRespond answers with 504 Gateway Timeout.
	PolicyRespond TimeoutPolicy = "respond"
	// PolicyClose aborts the connection without a response.
	PolicyClose TimeoutPolicy = "close"
)

func ParsePolicy(s string) (TimeoutPolicy, error) {
	switch TimeoutPolicy(s) {
	case PolicyRespond, "":
		return PolicyRespond, nil
	case PolicyClose:
		return PolicyClose, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadPolicy, s)
}

// Clock is the subset of k8s.io/utils/clock the worker needs.  Both
// clock.RealClock and the fake clock in k8s.io/utils/clock/testing
// satisfy it.
type Clock interface {
	Now() time.Time
	Since(time.Time) time.Duration
	NewTicker(time.Duration) clock.Ticker
	AfterFunc(time.Duration, func()) clock.Timer
}

// Options configure a Worker.  Timeout must be positive.
type Options struct {
	ID                int
	Timeout           time.Duration
	Policy            TimeoutPolicy
	MaxConnections    int           // 0 means unlimited
	HeartbeatInterval time.Duration // 0 disables heartbeats
	Heartbeat         func(Stats) error
	Logger            logr.Logger
	Clock             Clock
}

// Worker serves requests for one application instance.
type Worker struct {
	handler http.Handler
	opts    Options
	logger  logr.Logger
	clock   Clock
	pid     int

	// Loop channels.  Only the loop goroutine reads them.
	admit  chan *InFlightRequest
	finish chan *InFlightRequest
	expire chan *InFlightRequest
	query  chan chan Stats
	drain  chan struct{}

	quit      chan struct{} // closed to stop the loop
	abort     chan struct{} // closed to abandon every request
	lost      chan struct{} // closed when a heartbeat fails
	loopDone  chan struct{}
	quitOnce  sync.Once
	abortOnce sync.Once

	// Loop state.
	inflight map[uint64]*InFlightRequest
	seq      uint64
	stats    Stats
	final    Stats
	hbFailed bool

	srv        *http.Server
	running    bool
	terminated bool
	draining   bool
	stopAccept context.CancelFunc
	mx         sync.Mutex
}

// New allocates a worker and starts its loop.  The loop runs until Run
// returns or Terminate is called.
func New(h http.Handler, opts Options) *Worker {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRespond
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	w := &Worker{
		handler:  h,
		opts:     opts,
		logger:   opts.Logger,
		clock:    opts.Clock,
		pid:      os.Getpid(),
		admit:    make(chan *InFlightRequest),
		finish:   make(chan *InFlightRequest),
		expire:   make(chan *InFlightRequest),
		query:    make(chan chan Stats),
		drain:    make(chan struct{}, 1),
		quit:     make(chan struct{}),
		abort:    make(chan struct{}),
		lost:     make(chan struct{}),
		loopDone: make(chan struct{}),
		inflight: make(map[uint64]*InFlightRequest),
	}
	w.stats.ID = opts.ID
	w.stats.Pid = w.pid
	go w.loop()
	return w
}

// Run serves connections accepted from ln until ctx is canceled or
// Terminate is called.  Cancellation drains the worker: the listener is
// closed at once, and Run returns only after every request that was
// already in flight has either completed or timed out.  Terminate makes
// Run return without waiting.  Run returns nil in both cases.
func (w *Worker) Run(ctx context.Context, ln net.Listener) error {
	if w.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, w.opts.MaxConnections)
	}
	srv := &http.Server{
		Handler:     w,
		ErrorLog:    newErrorLog(w.logger),
		BaseContext: func(net.Listener) context.Context { return context.Background() },
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mx.Lock()
	if w.terminated {
		w.mx.Unlock()
		return ErrStopped
	}
	if w.running {
		w.mx.Unlock()
		return ErrRunning
	}
	w.running = true
	w.srv = srv
	w.stopAccept = cancel
	if w.draining {
		cancel()
	}
	w.mx.Unlock()
	defer w.stopLoop()

	w.logger.Info("worker serving", "addr", ln.Addr().String(), "pid", w.pid)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	var err error
	select {
	case <-w.lost:
		cancel()
		err = w.shutdown(srv, serveErr)
	case <-ctx.Done():
		err = w.shutdown(srv, serveErr)
	case err = <-serveErr:
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	w.logger.Info("worker exiting", "error", err)
	return err
}

// shutdown closes the listener and waits for active requests.  Each of
// them is bounded by the request timeout, so no deadline is needed here.
func (w *Worker) shutdown(srv *http.Server, serveErr <-chan error) error {
	w.logger.Info("worker draining")
	select {
	case w.drain <- struct{}{}:
	default:
	}
	srv.SetKeepAlivesEnabled(false)
	err := srv.Shutdown(context.Background())
	<-serveErr
	return err
}

// Drain is equivalent to canceling the context given to Run.  It may be
// called before Run, which then drains as soon as it starts.
func (w *Worker) Drain() {
	w.mx.Lock()
	w.draining = true
	stop := w.stopAccept
	w.mx.Unlock()
	if stop != nil {
		stop()
	}
}

// Terminate stops the worker immediately.  Every in-flight request is
// abandoned and its connection dropped.  It never blocks on the loop.
func (w *Worker) Terminate() {
	w.mx.Lock()
	w.terminated = true
	srv := w.srv
	w.mx.Unlock()

	w.logger.Info("worker terminating")
	w.abortOnce.Do(func() { close(w.abort) })
	if srv != nil {
		srv.Close()
	}
	w.quitOnce.Do(func() { close(w.quit) })
}

// Done is closed once the worker loop has stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.loopDone
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	ch := make(chan Stats, 1)
	select {
	case w.query <- ch:
		return <-ch
	case <-w.loopDone:
		return w.final
	}
}

// InFlight returns the number of requests currently admitted.
func (w *Worker) InFlight() int {
	return w.Stats().InFlight
}

func (w *Worker) stopLoop() {
	w.quitOnce.Do(func() { close(w.quit) })
	<-w.loopDone
}

// ServeHTTP admits the request, runs the application on its own
// goroutine and writes whichever outcome the loop decides on.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	r := &InFlightRequest{
		Method:  req.Method,
		Path:    req.URL.Path,
		cancel:  cancel,
		outcome: make(chan outcome, 1),
	}
	select {
	case w.admit <- r:
	case <-w.loopDone:
		http.Error(rw, "worker is shutting down", http.StatusServiceUnavailable)
		return
	}

	rb := newResponseBuffer()
	go w.invoke(r, rb, req.WithContext(ctx))

	switch <-r.outcome {
	case outcomeCompleted:
		rb.flushTo(rw)
	case outcomePanicked:
		http.Error(rw, http.StatusText(http.StatusInternalServerError),
			http.StatusInternalServerError)
	case outcomeTimedOut:
		rb.abandon()
		if w.opts.Policy == PolicyClose {
			panic(http.ErrAbortHandler)
		}
		rw.Header().Set("Connection", "close")
		http.Error(rw, ErrRequestTimeout.Error(), http.StatusGatewayTimeout)
	case outcomeAborted:
		rb.abandon()
		panic(http.ErrAbortHandler)
	}
}

func (w *Worker) invoke(r *InFlightRequest, rb *responseBuffer, req *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			r.panicked = p
		}
		select {
		case w.finish <- r:
		case <-w.loopDone:
		}
	}()
	w.handler.ServeHTTP(rb, req)
}
