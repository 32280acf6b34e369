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
	"bufio"
	"encoding/json"
	"io"
	"time"
)

// Stats is the liveness report a worker emits on every heartbeat.  The
// counters are cumulative for the life of the worker.
type Stats struct {
	ID       int       `json:"id"`
	Pid      int       `json:"pid"`
	InFlight int       `json:"inflight"`
	Accepted uint64    `json:"accepted"`
	Served   uint64    `json:"served"`
	TimedOut uint64    `json:"timedOut"`
	Panicked uint64    `json:"panicked"`
	Draining bool      `json:"draining"`
	Time     time.Time `json:"time"`
}

// HeartbeatWriter returns a heartbeat function that writes each report
// as a single JSON line.  It is used by worker processes to report to
// their supervisor over an inherited pipe.
func HeartbeatWriter(w io.Writer) func(Stats) error {
	enc := json.NewEncoder(w)
	return func(st Stats) error {
		return enc.Encode(&st)
	}
}

// ReadHeartbeats decodes JSON heartbeat lines from r until EOF, calling fn
// for each one.  Malformed lines are skipped.  The error returned is the
// read error, if any, or nil at EOF.
func ReadHeartbeats(r io.Reader, fn func(Stats)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var st Stats
		if e := json.Unmarshal(scanner.Bytes(), &st); e != nil {
			continue
		}
		fn(st)
	}
	return scanner.Err()
}
