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
	"context"
	"net/http"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeTimedOut
	outcomePanicked
	outcomeAborted
)

// InFlightRequest tracks a single request from admission until it either
// completes or is abandoned.  All fields are owned by the worker loop; the
// serving goroutine only ever receives on outcome.
type InFlightRequest struct {
	ID     uint64
	Start  time.Time
	Method string
	Path   string

	cancel   context.CancelFunc
	timer    clock.Timer
	outcome  chan outcome
	panicked interface{}
}

// responseBuffer collects the application's response so that it can be
// dropped in favour of a timeout response.  It is modeled on the writer
// used by net/http's TimeoutHandler.  Once the request is abandoned, all
// writes fail with http.ErrHandlerTimeout.
type responseBuffer struct {
	h         http.Header
	buf       bytes.Buffer
	code      int
	wrote     bool
	abandoned bool
	mx        sync.Mutex
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{h: make(http.Header)}
}

func (rb *responseBuffer) Header() http.Header {
	return rb.h
}

func (rb *responseBuffer) Write(b []byte) (int, error) {
	rb.mx.Lock()
	defer rb.mx.Unlock()
	if rb.abandoned {
		return 0, http.ErrHandlerTimeout
	}
	if !rb.wrote {
		rb.writeHeader(http.StatusOK)
	}
	return rb.buf.Write(b)
}

func (rb *responseBuffer) WriteHeader(code int) {
	rb.mx.Lock()
	defer rb.mx.Unlock()
	if rb.abandoned || rb.wrote {
		return
	}
	rb.writeHeader(code)
}

func (rb *responseBuffer) writeHeader(code int) {
	rb.wrote = true
	rb.code = code
}

// abandon discards anything written so far.
func (rb *responseBuffer) abandon() {
	rb.mx.Lock()
	rb.abandoned = true
	rb.buf.Reset()
	rb.mx.Unlock()
}

// flushTo copies the buffered response onto the real connection.
func (rb *responseBuffer) flushTo(w http.ResponseWriter) {
	rb.mx.Lock()
	defer rb.mx.Unlock()
	dst := w.Header()
	for k, v := range rb.h {
		dst[k] = v
	}
	if !rb.wrote {
		rb.code = http.StatusOK
	}
	w.WriteHeader(rb.code)
	w.Write(rb.buf.Bytes())
	rb.abandoned = true
}
