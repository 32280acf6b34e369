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
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/workvisor/workvisor/worker"
)

// The worker process finds the shared socket and its heartbeat pipe at
// these descriptors.
const (
	ListenerFd  = 3
	HeartbeatFd = 4
)

// ProcessProvider runs each worker as a child process, normally this
// same executable invoked with the hidden "worker" command.  The child
// inherits the listening socket and a heartbeat pipe, and receives its
// configuration through the environment.
type ProcessProvider struct {
	// Path is the executable to run.
	Path string
	// Args are the arguments, not including the program name.
	Args []string
	// Env is added to the supervisor's own environment.
	Env []string
}

// NewProcessProvider returns a provider that re-executes the running
// binary.
func NewProcessProvider() (*ProcessProvider, error) {
	path, e := os.Executable()
	if e != nil {
		return nil, e
	}
	return &ProcessProvider{Path: path, Args: []string{"worker"}}, nil
}

type process struct {
	cmd    *exec.Cmd
	logger logr.Logger
	done   chan struct{}
	err    error
	output sync.WaitGroup
}

func (p *ProcessProvider) Spawn(spec WorkerSpec) (Instance, error) {
	lf, e := listenerFile(spec.Listener)
	if e != nil {
		return nil, e
	}
	defer lf.Close()

	hr, hw, e := os.Pipe()
	if e != nil {
		return nil, e
	}
	defer hw.Close()

	cmd := exec.Command(p.Path, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Env = append(cmd.Env, spec.Config.Environ()...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%d", EnvName(KeyWorkerID), spec.ID))
	cmd.ExtraFiles = []*os.File{lf, hw}
	cmd.SysProcAttr = sysProcAttr()

	proc := &process{
		cmd:    cmd,
		logger: spec.Logger,
		done:   make(chan struct{}),
	}

	stdout, e := cmd.StdoutPipe()
	if e != nil {
		hr.Close()
		return nil, e
	}
	stderr, e := cmd.StderrPipe()
	if e != nil {
		hr.Close()
		return nil, e
	}

	if e := cmd.Start(); e != nil {
		hr.Close()
		return nil, e
	}

	proc.output.Add(2)
	go proc.doLog(stdout, "stdout")
	go proc.doLog(stderr, "stderr")
	go func() {
		defer hr.Close()
		worker.ReadHeartbeats(hr, func(st worker.Stats) {
			if spec.Heartbeat != nil {
				spec.Heartbeat(st)
			}
		})
	}()
	go proc.doWait()
	return proc, nil
}

func (p *process) doLog(r io.Reader, stream string) {
	defer p.output.Done()
	// Gather stdout/stderr in chunks of lines
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\n"); len(line) != 0 {
			p.logger.Info(line, "stream", stream)
		}
		if err != nil {
			return
		}
	}
}

func (p *process) doWait() {
	// Wait closes the output pipes, so drain them first.
	p.output.Wait()
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *process) Signal(kind SignalKind) error {
	sig := sigGraceful
	if kind == Immediate {
		sig = sigImmediate
	}
	return p.cmd.Process.Signal(sig)
}

func (p *process) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

func (p *process) Err() error {
	return p.err
}
