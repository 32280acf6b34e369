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
	"time"

	"github.com/workvisor/workvisor/worker"
)

// WorkerState is the lifecycle state of a worker, as seen by the
// supervisor.
//
//	    +------------+
//	    |  Starting  |
//	    +-----+------+
//	          | first heartbeat
//	    +-----v------+   crash, or immediate stop
//	    |  Running   +-------------------+
//	    +-----+------+                   |
//	          | graceful stop            |
//	    +-----v------+             +-----v------+
//	    |  Draining  +------------>|   Exited   |
//	    +------------+             +------------+
//
// A worker that exits while Starting goes straight to Exited as well.
type WorkerState string

const (
	StateStarting WorkerState = "starting"
	StateRunning  WorkerState = "running"
	StateDraining WorkerState = "draining"
	StateExited   WorkerState = "exited"
)

// WorkerHandle is the supervisor's record of one worker.  It is protected
// by the supervisor's lock, and is dropped once the worker is reaped.
type WorkerHandle struct {
	id        int
	pid       int
	state     WorkerState
	started   time.Time
	lastAlive time.Time
	stats     worker.Stats
	killed    bool
	inst      Instance
}

// WorkerInfo is a consistent snapshot of a WorkerHandle.
type WorkerInfo struct {
	ID        int          `json:"id"`
	Pid       int          `json:"pid"`
	State     WorkerState  `json:"state"`
	Started   time.Time    `json:"started"`
	LastAlive time.Time    `json:"lastAlive"`
	Stats     worker.Stats `json:"stats"`
}

func (h *WorkerHandle) info() WorkerInfo {
	return WorkerInfo{
		ID:        h.id,
		Pid:       h.pid,
		State:     h.state,
		Started:   h.started,
		LastAlive: h.lastAlive,
		Stats:     h.stats,
	}
}

// live reports whether the worker is still part of the pool.
func (h *WorkerHandle) live() bool {
	return h.state == StateStarting || h.state == StateRunning
}
