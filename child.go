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

	"github.com/go-logr/logr"

	"github.com/workvisor/workvisor/app"
	"github.com/workvisor/workvisor/worker"
)

// ServeInherited is the body of a worker process started by
// ProcessProvider.  It serves cfg.Application on the socket inherited at
// ListenerFd, reporting to the supervisor over the pipe at HeartbeatFd,
// until told to stop.  SIGTERM drains the worker; SIGINT and SIGQUIT stop
// it immediately.
func ServeInherited(cfg Config, id int, logger logr.Logger, sigs <-chan os.Signal) error {
	lf := os.NewFile(ListenerFd, "listener")
	hf := os.NewFile(HeartbeatFd, "heartbeat")
	if lf == nil || hf == nil {
		return ErrNoInheritedFile
	}
	defer hf.Close()

	ln, e := net.FileListener(lf)
	lf.Close()
	if e != nil {
		return fmt.Errorf("%w: %v", ErrNoInheritedFile, e)
	}
	defer ln.Close()

	h, e := app.Load(cfg.Application)
	if e != nil {
		return e
	}

	spec := WorkerSpec{ID: id, Config: cfg, Logger: logger}
	opts := spec.Options()
	opts.Heartbeat = worker.HeartbeatWriter(hf)
	w := worker.New(h, opts)

	go func() {
		for {
			select {
			case sig := <-sigs:
				kind, ok := KindOf(sig)
				if !ok {
					continue
				}
				logger.Info("worker received signal", "signal", sig.String())
				if kind == Immediate {
					w.Terminate()
				} else {
					w.Drain()
				}
			case <-w.Done():
				return
			}
		}
	}()
	return w.Run(context.Background(), ln)
}
