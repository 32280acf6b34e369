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

package workvisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/workvisor/workvisor/worker"
)

// DefaultPollInterval is how often the supervisor checks worker liveness.
// It is a prime number of milliseconds, so that polls drift against
// heartbeat ticks rather than landing on them.
const DefaultPollInterval = 587 * time.Millisecond

// Supervisor owns the listening socket and the pool of workers.
type Supervisor struct {
	cfg      Config
	provider Provider
	logger   logr.Logger
	clock    clock.WithTicker
	poll     time.Duration

	ln         net.Listener
	handles    map[int]*WorkerHandle
	nextID     int
	started    bool
	stopping   bool
	kind       SignalKind
	spawns     int64
	restarts   int64
	spawnFails int64
	serial     int64
	createTime time.Time
	updateTime time.Time

	stopMonitor chan struct{}
	drained     chan struct{}
	drainedOnce sync.Once
	done        chan struct{}

	mx  sync.Mutex
	cvs map[*sync.Cond]bool
}

// Status summarizes the supervisor.
type Status struct {
	Pid           int        `json:"pid"`
	Addr          string     `json:"addr"`
	State         string     `json:"state"`
	Application   string     `json:"application"`
	Mode          WorkerMode `json:"mode"`
	Workers       int        `json:"workers"`
	Live          int        `json:"live"`
	Timeout       int        `json:"timeoutSeconds"`
	Spawns        int64      `json:"spawns"`
	Restarts      int64      `json:"restarts"`
	SpawnFailures int64      `json:"spawnFailures"`
	Serial        int64      `json:"serial"`
	CreateTime    time.Time  `json:"createTime"`
	UpdateTime    time.Time  `json:"updateTime"`
}

// NewSupervisor validates cfg and returns a supervisor that has not yet
// bound its socket.  If p is nil, a provider matching cfg.WorkerMode is
// used.
func NewSupervisor(cfg Config, p Provider) (*Supervisor, error) {
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	if p == nil {
		var e error
		if p, e = providerFor(cfg); e != nil {
			return nil, e
		}
	}
	s := &Supervisor{
		cfg:         cfg,
		provider:    p,
		logger:      logr.Discard(),
		clock:       clock.RealClock{},
		poll:        DefaultPollInterval,
		handles:     make(map[int]*WorkerHandle),
		stopMonitor: make(chan struct{}),
		drained:     make(chan struct{}),
		done:        make(chan struct{}),
		cvs:         make(map[*sync.Cond]bool),
		// The origin serial is a nanosecond timestamp, so that clients
		// caching by serial notice a restarted supervisor.
		serial: time.Now().UnixNano(),
	}
	s.createTime = s.clock.Now()
	s.updateTime = s.createTime
	return s, nil
}

func providerFor(cfg Config) (Provider, error) {
	switch cfg.WorkerMode {
	case ModeInProcess:
		return &InProcessProvider{}, nil
	default:
		return NewProcessProvider()
	}
}

// SetLogger replaces the logger.  Call it before Start.
func (s *Supervisor) SetLogger(l logr.Logger) {
	s.lock()
	s.logger = l
	s.unlock()
}

// SetClock replaces the clock used for polling and the grace period.
// Call it before Start.
func (s *Supervisor) SetClock(c clock.WithTicker) {
	s.lock()
	s.clock = c
	s.unlock()
}

// SetPollInterval changes the liveness poll interval.  Call it before
// Start.
func (s *Supervisor) SetPollInterval(d time.Duration) {
	s.lock()
	s.poll = d
	s.unlock()
}

func (s *Supervisor) lock() {
	s.mx.Lock()
}

func (s *Supervisor) unlock() {
	s.mx.Unlock()
}

func (s *Supervisor) wakeUp() {
	// The lock must be held, or woken watchers may miss the new serial.
	for cv := range s.cvs {
		cv.Broadcast()
	}
}

// bumpSerial records a change and wakes watchers.  Call with lock held.
func (s *Supervisor) bumpSerial() {
	s.updateTime = s.clock.Now()
	s.serial++
	s.wakeUp()
}

// Serial is incremented on every change of the pool.
func (s *Supervisor) Serial() int64 {
	s.lock()
	defer s.unlock()
	return s.serial
}

// WatchSerial waits for the serial to move away from old, for at most
// expire.  It returns the current serial, which equals old if nothing
// changed.  An expire of 0 polls.
func (s *Supervisor) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&s.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			s.lock()
			expired = true
			cv.Broadcast()
			s.unlock()
		})
	} else {
		expired = true
	}

	s.lock()
	s.cvs[cv] = true
	for {
		rv = s.serial
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(s.cvs, cv)
	s.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// Config returns the configuration the supervisor was created with.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Addr returns the bound address, or nil before Start.
func (s *Supervisor) Addr() net.Addr {
	s.lock()
	defer s.unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Done is closed when Shutdown has completed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Start binds the listening socket, spawns the worker pool and starts
// monitoring.  A socket that cannot be bound yields a *ConfigurationError
// wrapping ErrBindFailure, and no worker is spawned.
func (s *Supervisor) Start() error {
	s.lock()
	defer s.unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	ln, e := Listen(s.cfg.BindAddress)
	if e != nil {
		return &ConfigurationError{
			Field: KeyBind,
			Value: s.cfg.BindAddress,
			Err:   fmt.Errorf("%w: %v", ErrBindFailure, e),
		}
	}
	s.ln = ln
	s.started = true
	s.logger.Info("supervisor listening", "addr", ln.Addr().String(),
		"workers", s.cfg.Workers, "timeout", s.cfg.RequestTimeout().String(),
		"app", s.cfg.Application, "mode", string(s.cfg.WorkerMode))

	for i := 0; i < s.cfg.Workers; i++ {
		s.spawn()
	}
	s.bumpSerial()
	go s.monitor()
	return nil
}

// spawn starts one worker.  Call with lock held.
func (s *Supervisor) spawn() error {
	s.nextID++
	now := s.clock.Now()
	h := &WorkerHandle{
		id:        s.nextID,
		state:     StateStarting,
		started:   now,
		lastAlive: now,
	}
	logger := s.logger.WithValues("worker", h.id)
	inst, e := s.provider.Spawn(WorkerSpec{
		ID:       h.id,
		Config:   s.cfg,
		Listener: s.ln,
		Heartbeat: func(st worker.Stats) {
			s.heartbeat(h, st)
		},
		Logger: logger,
	})
	if e != nil {
		s.spawnFails++
		logger.Error(e, "failed to spawn worker")
		return e
	}
	s.spawns++
	h.inst = inst
	h.pid = inst.Pid()
	s.handles[h.id] = h
	logger.Info("spawned worker", "pid", h.pid)
	s.bumpSerial()
	go s.reap(h)
	return nil
}

func (s *Supervisor) heartbeat(h *WorkerHandle, st worker.Stats) {
	s.lock()
	defer s.unlock()
	if h.state == StateExited {
		return
	}
	h.lastAlive = s.clock.Now()
	h.stats = st
	if h.state == StateStarting {
		h.state = StateRunning
		s.logger.Info("worker running", "worker", h.id, "pid", h.pid)
		s.bumpSerial()
	}
}

func (s *Supervisor) reap(h *WorkerHandle) {
	<-h.inst.Done()
	s.handleExit(h, h.inst.Err())
}

// handleExit retires a reaped worker and, unless we are shutting down,
// replaces it straight away.
func (s *Supervisor) handleExit(h *WorkerHandle, err error) {
	s.lock()
	defer s.unlock()

	prev := h.state
	h.state = StateExited
	delete(s.handles, h.id)
	defer s.bumpSerial()

	if s.stopping {
		s.logger.Info("worker exited", "worker", h.id, "pid", h.pid,
			"state", string(prev), "error", err)
		if len(s.handles) == 0 {
			s.closeDrained()
		}
		return
	}

	reason := err
	switch {
	case h.killed:
		reason = fmt.Errorf("%w: killed by supervisor", ErrWorkerCrash)
	case err == nil:
		reason = fmt.Errorf("%w: exit status 0", ErrWorkerCrash)
	default:
		reason = fmt.Errorf("%w: %v", ErrWorkerCrash, err)
	}
	s.restarts++
	s.logger.Error(reason, "worker crashed, respawning", "worker", h.id,
		"pid", h.pid, "state", string(prev))
	s.spawn()
}

func (s *Supervisor) closeDrained() {
	s.drainedOnce.Do(func() { close(s.drained) })
}

func (s *Supervisor) monitor() {
	s.lock()
	ticker := s.clock.NewTicker(s.poll)
	s.unlock()
	defer ticker.Stop()

	for {
		select {
		case <-s.stopMonitor:
			return
		case <-ticker.C():
			s.check()
		}
	}
}

// check kills workers that have gone quiet, and tops the pool back up
// if an earlier spawn failed.
func (s *Supervisor) check() {
	s.lock()
	defer s.unlock()
	if s.stopping {
		return
	}
	now := s.clock.Now()
	if limit := s.cfg.HeartbeatTimeout; limit > 0 {
		for _, h := range s.handles {
			if h.killed || !h.live() {
				continue
			}
			if silent := now.Sub(h.lastAlive); silent > limit {
				s.logger.Error(ErrWorkerHung, "killing worker", "worker", h.id,
					"pid", h.pid, "silent", silent.String())
				h.killed = true
				if e := h.inst.Kill(); e != nil {
					s.logger.Error(e, "failed to kill worker", "worker", h.id)
				}
			}
		}
	}
	for n := len(s.handles); n < s.cfg.Workers; n++ {
		if s.spawn() != nil {
			break
		}
	}
}

// KillWorker forcibly stops one worker.  It is then replaced like any
// other crashed worker.
func (s *Supervisor) KillWorker(id int) error {
	s.lock()
	defer s.unlock()
	if s.stopping {
		return ErrShuttingDown
	}
	h, ok := s.handles[id]
	if !ok {
		return ErrUnknownWorker
	}
	s.logger.Info("killing worker on request", "worker", id, "pid", h.pid)
	h.killed = true
	return h.inst.Kill()
}

// signalAll asks every worker to stop.  Call with lock held.
func (s *Supervisor) signalAll(kind SignalKind) {
	for _, h := range s.handles {
		if kind == Graceful && h.live() {
			h.state = StateDraining
		}
		if e := h.inst.Signal(kind); e != nil {
			s.logger.Error(e, "failed to signal worker", "worker", h.id,
				"kind", kind.String())
		}
	}
}

// Shutdown stops the pool.  A graceful shutdown lets workers finish what
// they are doing; an immediate one tells them to drop it.  Either way, the
// supervisor waits at most the configured grace period before killing any
// worker that is left, then closes the socket.  A second call waits for
// the first, escalating it if it asks for an immediate stop.
func (s *Supervisor) Shutdown(kind SignalKind) error {
	s.lock()
	if !s.started {
		s.unlock()
		return ErrNotStarted
	}
	if s.stopping {
		if kind == Immediate && s.kind == Graceful {
			s.kind = Immediate
			s.logger.Info("escalating shutdown", "kind", kind.String())
			s.signalAll(Immediate)
		}
		s.unlock()
		<-s.done
		return nil
	}
	s.stopping = true
	s.kind = kind
	close(s.stopMonitor)
	s.logger.Info("shutting down", "kind", kind.String(), "workers", len(s.handles),
		"grace", s.cfg.GracePeriod().String())
	s.signalAll(kind)
	if len(s.handles) == 0 {
		s.closeDrained()
	}
	s.bumpSerial()
	timer := s.clock.NewTimer(s.cfg.GracePeriod())
	s.unlock()

	select {
	case <-s.drained:
		timer.Stop()
	case <-timer.C():
		s.lock()
		for _, h := range s.handles {
			s.logger.Info("grace period expired, killing worker",
				"worker", h.id, "pid", h.pid)
			h.killed = true
			if e := h.inst.Kill(); e != nil {
				s.logger.Error(e, "failed to kill worker", "worker", h.id)
			}
		}
		s.unlock()
		<-s.drained
	}

	s.lock()
	e := s.ln.Close()
	s.bumpSerial()
	s.unlock()
	s.logger.Info("supervisor shut down")
	close(s.done)
	if e != nil {
		s.logger.Error(e, "failed to close listening socket")
	}
	return nil
}

// Run starts the supervisor and blocks until it is told to stop, either by
// a signal or by ctx.  SIGTERM (and ctx) request a graceful stop, SIGINT
// and SIGQUIT an immediate one.  Further signals received while draining
// can escalate to an immediate stop.
func (s *Supervisor) Run(ctx context.Context, sigs <-chan os.Signal) error {
	if e := s.Start(); e != nil {
		return e
	}

	kind := Graceful
wait:
	for {
		select {
		case sig := <-sigs:
			k, ok := KindOf(sig)
			if !ok {
				s.logger.Info("ignoring signal", "signal", sig.String())
				continue
			}
			s.logger.Info("received signal", "signal", sig.String())
			kind = k
			break wait
		case <-ctx.Done():
			break wait
		case <-s.done:
			return nil
		}
	}

	go func() {
		for {
			select {
			case sig := <-sigs:
				if k, ok := KindOf(sig); ok {
					s.logger.Info("received signal while stopping", "signal", sig.String())
					s.Shutdown(k)
				}
			case <-s.done:
				return
			}
		}
	}()
	return s.Shutdown(kind)
}

// Workers returns a snapshot of the pool, ordered by worker id.
func (s *Supervisor) Workers() []WorkerInfo {
	s.lock()
	rv := make([]WorkerInfo, 0, len(s.handles))
	for _, h := range s.handles {
		rv = append(rv, h.info())
	}
	s.unlock()
	sort.Slice(rv, func(i, j int) bool { return rv[i].ID < rv[j].ID })
	return rv
}

// Worker returns a snapshot of one worker.
func (s *Supervisor) Worker(id int) (WorkerInfo, error) {
	s.lock()
	defer s.unlock()
	h, ok := s.handles[id]
	if !ok {
		return WorkerInfo{}, ErrUnknownWorker
	}
	return h.info(), nil
}

// Live counts the workers that are up and reporting.
func (s *Supervisor) Live() int {
	s.lock()
	defer s.unlock()
	n := 0
	for _, h := range s.handles {
		if h.state == StateRunning {
			n++
		}
	}
	return n
}

// Restarts counts workers replaced after crashing.
func (s *Supervisor) Restarts() int64 {
	s.lock()
	defer s.unlock()
	return s.restarts
}

func (s *Supervisor) Status() Status {
	s.lock()
	defer s.unlock()
	st := Status{
		Pid:           os.Getpid(),
		Application:   s.cfg.Application,
		Mode:          s.cfg.WorkerMode,
		Workers:       s.cfg.Workers,
		Timeout:       s.cfg.TimeoutSeconds,
		Spawns:        s.spawns,
		Restarts:      s.restarts,
		SpawnFailures: s.spawnFails,
		Serial:        s.serial,
		CreateTime:    s.createTime,
		UpdateTime:    s.updateTime,
	}
	if s.ln != nil {
		st.Addr = s.ln.Addr().String()
	}
	for _, h := range s.handles {
		if h.state == StateRunning {
			st.Live++
		}
	}
	switch {
	case !s.started:
		st.State = "new"
	case s.stopping && isClosed(s.done):
		st.State = "stopped"
	case s.stopping:
		st.State = "stopping"
	default:
		st.State = "running"
	}
	return st
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
