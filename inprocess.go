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
	"net/http"
	"os"

	"github.com/workvisor/workvisor/app"
	"github.com/workvisor/workvisor/worker"
)

// InProcessProvider runs workers as goroutines of the supervisor
// process, each serving on its own duplicate of the shared socket.  It
// is useful for tests and for platforms without fork and exec.
//
// A crashed in-process worker is one whose Run returned while the
// supervisor was not stopping.  Application code that ignores request
// cancellation cannot be stopped, and keeps running after its request
// has timed out.
type InProcessProvider struct {
	// Factory, if set, is used instead of looking the application up
	// in the registry.
	Factory app.Factory
}

type inProcess struct {
	w    *worker.Worker
	done chan struct{}
	err  error
}

func (p *InProcessProvider) Spawn(spec WorkerSpec) (Instance, error) {
	h, e := p.load(spec.Config.Application)
	if e != nil {
		return nil, e
	}
	ln, e := dupListener(spec.Listener)
	if e != nil {
		return nil, e
	}

	ip := &inProcess{
		w:    worker.New(h, spec.Options()),
		done: make(chan struct{}),
	}
	go func() {
		defer close(ip.done)
		defer ln.Close()
		ip.err = ip.w.Run(context.Background(), ln)
	}()
	return ip, nil
}

func (p *InProcessProvider) load(name string) (http.Handler, error) {
	if p.Factory != nil {
		return p.Factory()
	}
	return app.Load(name)
}

func (ip *inProcess) Pid() int {
	return os.Getpid()
}

func (ip *inProcess) Signal(kind SignalKind) error {
	if kind == Immediate {
		ip.w.Terminate()
	} else {
		ip.w.Drain()
	}
	return nil
}

func (ip *inProcess) Kill() error {
	ip.w.Terminate()
	return nil
}

func (ip *inProcess) Done() <-chan struct{} {
	return ip.done
}

func (ip *inProcess) Err() error {
	return ip.err
}
