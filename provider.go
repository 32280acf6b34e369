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
	"net"
	"os"
	"syscall"

	"github.com/go-logr/logr"

	"github.com/workvisor/workvisor/worker"
)

// SignalKind distinguishes the two ways of stopping a worker.
type SignalKind int

const (
	// Graceful stops accepting and lets in-flight requests finish or
	// time out.
	Graceful SignalKind = iota
	// Immediate abandons in-flight requests.
	Immediate
)

func (k SignalKind) String() string {
	switch k {
	case Graceful:
		return "graceful"
	case Immediate:
		return "immediate"
	}
	return "unknown"
}

// KindOf maps a received operating system signal to a shutdown kind.
// SIGTERM is graceful, SIGINT and SIGQUIT are immediate.
func KindOf(sig os.Signal) (SignalKind, bool) {
	switch sig {
	case syscall.SIGTERM:
		return Graceful, true
	case os.Interrupt, syscall.SIGQUIT:
		return Immediate, true
	}
	return Graceful, false
}

// WorkerSpec is everything a provider needs to start one worker.
type WorkerSpec struct {
	ID     int
	Config Config

	// Listener is the shared socket.  Providers must not close it.
	Listener net.Listener

	// Heartbeat must be called with every report the worker emits.
	Heartbeat func(worker.Stats)

	Logger logr.Logger
}

// Options returns the worker options implied by the spec.  The heartbeat
// is wired straight to the supervisor callback.
func (spec WorkerSpec) Options() worker.Options {
	policy, _ := worker.ParsePolicy(string(spec.Config.TimeoutPolicy))
	return worker.Options{
		ID:                spec.ID,
		Timeout:           spec.Config.RequestTimeout(),
		Policy:            policy,
		MaxConnections:    spec.Config.MaxConnections,
		HeartbeatInterval: spec.Config.HeartbeatInterval,
		Heartbeat: func(st worker.Stats) error {
			if spec.Heartbeat != nil {
				spec.Heartbeat(st)
			}
			return nil
		},
		Logger: spec.Logger,
	}
}

// Provider starts workers.  The supervisor serializes calls to Spawn.
type Provider interface {
	Spawn(spec WorkerSpec) (Instance, error)
}

// Instance is a started worker.
type Instance interface {
	// Pid returns the operating system process id.  In-process
	// workers report the supervisor's pid.
	Pid() int

	// Signal asks the worker to stop, as described by kind.  It must
	// not block.
	Signal(kind SignalKind) error

	// Kill stops the worker forcibly.  It must not block, and the
	// worker must exit soon after.
	Kill() error

	// Done is closed once the worker has exited and been reaped.
	Done() <-chan struct{}

	// Err describes how the worker exited.  It is only meaningful
	// once Done is closed; nil means a clean exit.
	Err() error
}
