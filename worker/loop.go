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

package worker

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// loop owns the in-flight table.  Nothing else reads or writes it.
func (w *Worker) loop() {
	defer close(w.loopDone)

	var tick <-chan time.Time
	if w.opts.HeartbeatInterval > 0 && w.opts.Heartbeat != nil {
		t := w.clock.NewTicker(w.opts.HeartbeatInterval)
		defer t.Stop()
		tick = t.C()
		w.beat()
	}

	abort := w.abort
	for {
		select {
		case r := <-w.admit:
			w.admitRequest(r)

		case r := <-w.finish:
			w.finishRequest(r)

		case r := <-w.expire:
			w.expireRequest(r)

		case ch := <-w.query:
			ch <- w.snapshot()

		case <-w.drain:
			w.stats.Draining = true
			w.beat()

		case <-tick:
			w.beat()

		case <-abort:
			w.abortAll()
			// A closed channel is always ready; stop selecting on it.
			abort = nil

		case <-w.quit:
			w.abortAll()
			w.final = w.snapshot()
			return
		}
	}
}

func (w *Worker) admitRequest(r *InFlightRequest) {
	w.seq++
	r.ID = w.seq
	r.Start = w.clock.Now()
	w.stats.Accepted++
	if w.isAborted() {
		// Terminate raced with this request; it never gets to run.
		r.outcome <- outcomeAborted
		r.cancel()
		return
	}
	r.timer = w.clock.AfterFunc(w.opts.Timeout, func() {
		// Off the clock's goroutine: the fake clock runs these under
		// its own lock.
		go func() {
			select {
			case w.expire <- r:
			case <-w.loopDone:
			}
		}()
	})
	w.inflight[r.ID] = r
	w.logger.V(2).Info("request admitted", "request", r.ID,
		"method", r.Method, "path", r.Path)
}

func (w *Worker) finishRequest(r *InFlightRequest) {
	if w.inflight[r.ID] != r {
		// Already timed out or aborted.
		return
	}
	delete(w.inflight, r.ID)
	if r.timer != nil {
		r.timer.Stop()
	}
	switch {
	case r.panicked == http.ErrAbortHandler:
		r.outcome <- outcomeAborted
	case r.panicked != nil:
		w.stats.Panicked++
		w.logger.Error(errorFromPanic(r.panicked), "application panicked",
			"request", r.ID, "method", r.Method, "path", r.Path)
		r.outcome <- outcomePanicked
	default:
		w.stats.Served++
		w.logger.V(2).Info("request completed", "request", r.ID,
			"elapsed", w.clock.Since(r.Start).String())
		r.outcome <- outcomeCompleted
	}
}

func (w *Worker) expireRequest(r *InFlightRequest) {
	if w.inflight[r.ID] != r {
		// Completed before the timer could be stopped.
		return
	}
	delete(w.inflight, r.ID)
	r.cancel()
	w.stats.TimedOut++
	w.logger.Info("request timed out", "request", r.ID,
		"method", r.Method, "path", r.Path,
		"timeout", w.opts.Timeout.String())
	r.outcome <- outcomeTimedOut
}

func (w *Worker) abortAll() {
	for id, r := range w.inflight {
		delete(w.inflight, id)
		if r.timer != nil {
			r.timer.Stop()
		}
		r.cancel()
		r.outcome <- outcomeAborted
	}
}

func (w *Worker) isAborted() bool {
	select {
	case <-w.abort:
		return true
	default:
		return false
	}
}

func (w *Worker) snapshot() Stats {
	st := w.stats
	st.InFlight = len(w.inflight)
	st.Time = w.clock.Now()
	return st
}

// beat reports to the supervisor.  A failed report means nobody is
// listening any more, so the worker drains itself.
func (w *Worker) beat() {
	if w.opts.Heartbeat == nil || w.hbFailed {
		return
	}
	if e := w.opts.Heartbeat(w.snapshot()); e != nil {
		w.hbFailed = true
		w.logger.Error(e, "heartbeat failed, draining")
		close(w.lost)
	}
}

type panicError struct {
	v interface{}
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.v)
}

func errorFromPanic(v interface{}) error {
	if e, ok := v.(error); ok {
		return e
	}
	return panicError{v}
}

// logWriter adapts the server's error log onto logr.
type logWriter struct {
	logger logr.Logger
}

func (lw logWriter) Write(b []byte) (int, error) {
	lw.logger.Info(string(bytes.TrimRight(b, "\n")))
	return len(b), nil
}

func newErrorLog(logger logr.Logger) *log.Logger {
	return log.New(logWriter{logger.WithName("http")}, "", 0)
}
