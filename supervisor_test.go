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
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/workvisor/workvisor/worker"
)

func testLogger(t *testing.T) logr.Logger {
	return zapr.NewLogger(zaptest.NewLogger(t))
}

type fakeInstance struct {
	spec    WorkerSpec
	pid     int
	signals []SignalKind
	done    chan struct{}
	once    sync.Once
	err     error
	mx      sync.Mutex
}

func (f *fakeInstance) exit(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *fakeInstance) beat() {
	f.spec.Heartbeat(worker.Stats{ID: f.spec.ID, Pid: f.pid})
}

func (f *fakeInstance) received() []SignalKind {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]SignalKind(nil), f.signals...)
}

func (f *fakeInstance) Pid() int { return f.pid }

func (f *fakeInstance) Signal(kind SignalKind) error {
	f.mx.Lock()
	f.signals = append(f.signals, kind)
	f.mx.Unlock()
	if kind == Immediate {
		f.exit(nil)
	}
	return nil
}

func (f *fakeInstance) Kill() error {
	f.exit(errors.New("killed"))
	return nil
}

func (f *fakeInstance) Done() <-chan struct{} { return f.done }

func (f *fakeInstance) Err() error { return f.err }

// fakeProvider hands out instances that only do what the test tells them.
type fakeProvider struct {
	fail      error
	spawned   []*fakeInstance
	autoDrain bool
	mx        sync.Mutex
}

func (p *fakeProvider) Spawn(spec WorkerSpec) (Instance, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	f := &fakeInstance{spec: spec, pid: 1000 + spec.ID, done: make(chan struct{})}
	if p.autoDrain {
		go func() {
			for {
				select {
				case <-f.done:
					return
				case <-time.After(time.Millisecond):
					if len(f.received()) != 0 {
						f.exit(nil)
					}
				}
			}
		}()
	}
	p.spawned = append(p.spawned, f)
	return f, nil
}

func (p *fakeProvider) count() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return len(p.spawned)
}

func (p *fakeProvider) instance(i int) *fakeInstance {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.spawned[i]
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BindAddress = "127.0.0.1:0"
	cfg.Workers = 3
	cfg.GraceSeconds = 10
	return cfg
}

func withSupervisor(t *testing.T, fail error, fn func(*Supervisor, *fakeProvider, *testingclock.FakeClock)) func() {
	return func() {
		p := &fakeProvider{fail: fail}
		s, e := NewSupervisor(testConfig(), p)
		So(e, ShouldBeNil)
		fc := testingclock.NewFakeClock(time.Now())
		s.SetClock(fc)
		s.SetLogger(testLogger(t))
		So(s.Start(), ShouldBeNil)
		Reset(func() {
			s.Shutdown(Immediate)
		})
		fn(s, p, fc)
	}
}

func TestSupervisorPool(t *testing.T) {
	Convey("Given a started supervisor", t, withSupervisor(t, nil,
		func(s *Supervisor, p *fakeProvider, fc *testingclock.FakeClock) {
			So(p.count(), ShouldEqual, 3)
			So(s.Addr(), ShouldNotBeNil)
			So(s.Start(), ShouldEqual, ErrAlreadyStarted)

			Convey("Workers start out starting", func() {
				So(s.Live(), ShouldEqual, 0)
				for _, w := range s.Workers() {
					So(w.State, ShouldEqual, StateStarting)
				}
			})

			Convey("Heartbeats make workers live", func() {
				old := s.Serial()
				for i := 0; i < 3; i++ {
					p.instance(i).beat()
				}
				So(s.Live(), ShouldEqual, 3)
				So(s.WatchSerial(old, 0), ShouldBeGreaterThan, old)
				ws := s.Workers()
				So(len(ws), ShouldEqual, 3)
				So(ws[0].ID, ShouldEqual, 1)
				So(ws[2].ID, ShouldEqual, 3)
				So(ws[1].Pid, ShouldEqual, 1002)
				st := s.Status()
				So(st.State, ShouldEqual, "running")
				So(st.Live, ShouldEqual, 3)
			})

			Convey("A crashed worker is replaced", func() {
				p.instance(1).exit(errors.New("segfault"))
				So(waitFor(func() bool { return p.count() == 4 }), ShouldBeTrue)
				So(s.Restarts(), ShouldEqual, 1)
				ws := s.Workers()
				So(len(ws), ShouldEqual, 3)
				So(ws[0].ID, ShouldEqual, 1)
				So(ws[1].ID, ShouldEqual, 3)
				So(ws[2].ID, ShouldEqual, 4)
				_, e := s.Worker(2)
				So(e, ShouldEqual, ErrUnknownWorker)
			})

			Convey("A worker exiting cleanly is still replaced", func() {
				p.instance(0).exit(nil)
				So(waitFor(func() bool { return p.count() == 4 }), ShouldBeTrue)
				So(s.Restarts(), ShouldEqual, 1)
			})

			Convey("KillWorker kills and replaces", func() {
				So(s.KillWorker(42), ShouldEqual, ErrUnknownWorker)
				So(s.KillWorker(2), ShouldBeNil)
				So(waitFor(func() bool { return p.count() == 4 }), ShouldBeTrue)
				So(s.Restarts(), ShouldEqual, 1)
			})

			Convey("Silent workers are killed", func() {
				p.instance(0).beat()
				So(waitFor(fc.HasWaiters), ShouldBeTrue)
				fc.Step(31 * time.Second)
				So(waitFor(func() bool { return p.count() == 6 }), ShouldBeTrue)
				So(len(s.Workers()), ShouldEqual, 3)
			})

			Convey("Graceful shutdown waits for workers", func() {
				for i := 0; i < 3; i++ {
					p.instance(i).beat()
				}
				done := make(chan error, 1)
				go func() { done <- s.Shutdown(Graceful) }()
				So(waitFor(func() bool { return s.Status().State == "stopping" }), ShouldBeTrue)
				for _, w := range s.Workers() {
					So(w.State, ShouldEqual, StateDraining)
				}
				So(p.instance(0).received(), ShouldResemble, []SignalKind{Graceful})
				So(s.KillWorker(1), ShouldEqual, ErrShuttingDown)

				p.instance(0).exit(nil)
				p.instance(1).exit(nil)
				So(waitFor(func() bool { return len(s.Workers()) == 1 }), ShouldBeTrue)
				select {
				case <-done:
					So("shutdown returned early", ShouldBeNil)
				default:
				}
				p.instance(2).exit(nil)
				So(<-done, ShouldBeNil)
				So(p.count(), ShouldEqual, 3)
				So(s.Restarts(), ShouldEqual, 0)
				So(s.Status().State, ShouldEqual, "stopped")
				_, e := net.Dial("tcp", s.Addr().String())
				So(e, ShouldNotBeNil)
			})

			Convey("Workers left after the grace period are killed", func() {
				done := make(chan error, 1)
				go func() { done <- s.Shutdown(Graceful) }()
				So(waitFor(func() bool {
					fc.Step(10 * time.Second)
					return isClosed(s.Done())
				}), ShouldBeTrue)
				So(<-done, ShouldBeNil)
				So(p.instance(0).Err(), ShouldNotBeNil)
				So(p.count(), ShouldEqual, 3)
			})

			Convey("A second request escalates", func() {
				go s.Shutdown(Graceful)
				So(waitFor(func() bool { return s.Status().State == "stopping" }), ShouldBeTrue)
				So(s.Shutdown(Immediate), ShouldBeNil)
				So(p.instance(0).received(), ShouldResemble, []SignalKind{Graceful, Immediate})
			})

			Convey("Immediate shutdown", func() {
				So(s.Shutdown(Immediate), ShouldBeNil)
				So(p.instance(2).received(), ShouldResemble, []SignalKind{Immediate})
				So(len(s.Workers()), ShouldEqual, 0)
				So(s.Restarts(), ShouldEqual, 0)
			})
		}))
}

func TestSupervisorSpawnFailure(t *testing.T) {
	Convey("Failed spawns are retried", t, withSupervisor(t, errors.New("no fork for you"),
		func(s *Supervisor, p *fakeProvider, fc *testingclock.FakeClock) {
			So(len(s.Workers()), ShouldEqual, 0)
			So(s.Status().SpawnFailures, ShouldEqual, 3)

			p.mx.Lock()
			p.fail = nil
			p.mx.Unlock()
			So(waitFor(fc.HasWaiters), ShouldBeTrue)
			fc.Step(time.Second)
			So(waitFor(func() bool { return p.count() == 3 }), ShouldBeTrue)
		}))
}

func TestSupervisorConfiguration(t *testing.T) {
	Convey("Invalid configuration is refused", t, func() {
		cfg := testConfig()
		cfg.Workers = 0
		_, e := NewSupervisor(cfg, &fakeProvider{})
		So(IsConfigurationError(e), ShouldBeTrue)
	})

	Convey("A busy address spawns nothing", t, func() {
		ln, e := net.Listen("tcp", "127.0.0.1:0")
		So(e, ShouldBeNil)
		defer ln.Close()

		cfg := testConfig()
		cfg.BindAddress = ln.Addr().String()
		p := &fakeProvider{}
		s, e := NewSupervisor(cfg, p)
		So(e, ShouldBeNil)
		e = s.Start()
		So(IsConfigurationError(e), ShouldBeTrue)
		So(errors.Is(e, ErrBindFailure), ShouldBeTrue)
		So(p.count(), ShouldEqual, 0)
		So(s.Shutdown(Graceful), ShouldEqual, ErrNotStarted)
	})
}

func TestSupervisorRun(t *testing.T) {
	Convey("Run stops on SIGTERM", t, func() {
		p := &fakeProvider{autoDrain: true}
		s, e := NewSupervisor(testConfig(), p)
		So(e, ShouldBeNil)
		s.SetLogger(testLogger(t))

		sigs := make(chan os.Signal, 1)
		done := make(chan error, 1)
		go func() { done <- s.Run(context.Background(), sigs) }()
		So(waitFor(func() bool { return p.count() == 3 }), ShouldBeTrue)
		sigs <- syscall.SIGTERM
		So(<-done, ShouldBeNil)
		So(p.instance(0).received()[0], ShouldEqual, Graceful)
	})

	Convey("Run stops when the context is canceled", t, func() {
		p := &fakeProvider{autoDrain: true}
		s, e := NewSupervisor(testConfig(), p)
		So(e, ShouldBeNil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx, nil) }()
		So(waitFor(func() bool { return p.count() == 3 }), ShouldBeTrue)
		cancel()
		So(<-done, ShouldBeNil)
	})
}

func TestInProcessWorkers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			started <- struct{}{}
			<-release
		}
		io.WriteString(w, "hello")
	})
	cfg := testConfig()
	cfg.Workers = 2
	cfg.WorkerMode = ModeInProcess
	p := &InProcessProvider{
		Factory: func() (http.Handler, error) { return handler, nil },
	}

	Convey("In-process workers serve the shared socket", t, func() {
		s, e := NewSupervisor(cfg, p)
		So(e, ShouldBeNil)
		s.SetLogger(testLogger(t))
		So(s.Start(), ShouldBeNil)
		Reset(func() { s.Shutdown(Immediate) })

		So(waitFor(func() bool { return s.Live() == 2 }), ShouldBeTrue)
		url := "http://" + s.Addr().String()

		rsp, e := http.Get(url + "/")
		So(e, ShouldBeNil)
		body, _ := io.ReadAll(rsp.Body)
		rsp.Body.Close()
		So(string(body), ShouldEqual, "hello")

		Convey("Graceful shutdown finishes in-flight requests", func() {
			got := make(chan string, 1)
			go func() {
				rsp, e := http.Get(url + "/slow")
				if e != nil {
					got <- e.Error()
					return
				}
				b, _ := io.ReadAll(rsp.Body)
				rsp.Body.Close()
				got <- string(b)
			}()
			<-started

			done := make(chan error, 1)
			go func() { done <- s.Shutdown(Graceful) }()
			So(waitFor(func() bool { return s.Status().State == "stopping" }), ShouldBeTrue)
			close(release)
			So(<-got, ShouldEqual, "hello")
			So(<-done, ShouldBeNil)
			So(s.Restarts(), ShouldEqual, 0)
		})
	})
}

func TestGracefulShutdownOutlastsGraceSeconds(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		io.WriteString(w, "finished")
	})
	cfg := testConfig()
	cfg.Workers = 1
	cfg.WorkerMode = ModeInProcess
	cfg.TimeoutSeconds = 60
	cfg.GraceSeconds = 2
	p := &InProcessProvider{
		Factory: func() (http.Handler, error) { return handler, nil },
	}

	Convey("A request longer than the grace seconds still finishes", t, func() {
		s, e := NewSupervisor(cfg, p)
		So(e, ShouldBeNil)
		fc := testingclock.NewFakeClock(time.Now())
		s.SetClock(fc)
		s.SetLogger(testLogger(t))
		So(s.Start(), ShouldBeNil)
		So(waitFor(func() bool { return s.Live() == 1 }), ShouldBeTrue)

		got := make(chan string, 1)
		go func() {
			rsp, e := http.Get("http://" + s.Addr().String() + "/slow")
			if e != nil {
				got <- e.Error()
				return
			}
			b, _ := io.ReadAll(rsp.Body)
			rsp.Body.Close()
			got <- string(b)
		}()
		<-started

		done := make(chan error, 1)
		go func() { done <- s.Shutdown(Graceful) }()
		// The grace timer is armed before the state is visible.
		So(waitFor(func() bool { return s.Status().State == "stopping" }), ShouldBeTrue)

		fc.Step(30 * time.Second)
		select {
		case v := <-got:
			So(v, ShouldEqual, "request still in flight")
		case <-time.After(100 * time.Millisecond):
		}
		So(isClosed(s.Done()), ShouldBeFalse)

		close(release)
		So(<-got, ShouldEqual, "finished")
		So(<-done, ShouldBeNil)
		So(s.Restarts(), ShouldEqual, 0)
	})
}
