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

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"

	"github.com/workvisor/workvisor"
)

func TestLoadConfig(t *testing.T) {
	Convey("Given the default flags", t, func() {
		Reset(func() {
			viper.Set(keyConfig, "")
			viper.Set(workvisor.KeyTimeout, workvisor.DefaultConfig().TimeoutSeconds)
		})

		Convey("Defaults are used", func() {
			cfg, e := loadConfig()
			So(e, ShouldBeNil)
			So(cfg, ShouldResemble, workvisor.DefaultConfig())
		})

		Convey("Environment variables override them", func() {
			t.Setenv("WORKVISOR_WORKERS", "5")
			t.Setenv("WORKVISOR_HEARTBEAT_TIMEOUT", "1m")
			t.Setenv("WORKVISOR_WORKER_MODE", "inprocess")
			cfg, e := loadConfig()
			So(e, ShouldBeNil)
			So(cfg.Workers, ShouldEqual, 5)
			So(cfg.HeartbeatTimeout, ShouldEqual, time.Minute)
			So(cfg.WorkerMode, ShouldEqual, workvisor.ModeInProcess)
		})

		Convey("A config file is read", func() {
			path := filepath.Join(t.TempDir(), "workvisor.yaml")
			So(os.WriteFile(path, []byte("timeout: 5\napp: demo\n"), 0644), ShouldBeNil)
			viper.Set(keyConfig, path)
			cfg, e := loadConfig()
			So(e, ShouldBeNil)
			So(cfg.TimeoutSeconds, ShouldEqual, 5)
		})

		Convey("Bad values are configuration errors", func() {
			t.Setenv("WORKVISOR_WORKERS", "0")
			_, e := loadConfig()
			So(workvisor.IsConfigurationError(e), ShouldBeTrue)
		})

		Convey("A missing config file is a configuration error", func() {
			viper.Set(keyConfig, filepath.Join(t.TempDir(), "nosuch.yaml"))
			_, e := loadConfig()
			So(workvisor.IsConfigurationError(e), ShouldBeTrue)
		})
	})
}

func TestExitCode(t *testing.T) {
	Convey("Exit codes tell configuration errors apart", t, func() {
		So(exitCode(nil), ShouldEqual, 0)
		bind := &workvisor.ConfigurationError{Field: workvisor.KeyBind,
			Value: "0.0.0.0:80", Err: fmt.Errorf("%w: denied", workvisor.ErrBindFailure)}
		So(exitCode(bind), ShouldEqual, 2)
		So(exitCode(fmt.Errorf("serve: %w", bind)), ShouldEqual, 2)
		So(exitCode(errors.New("boom")), ShouldEqual, 1)
	})
}

func TestWorkerLogging(t *testing.T) {
	Convey("Logger settings reach worker processes", t, func() {
		viper.Set(keyLogLevel, "debug")
		viper.Set(keyDevelopment, true)
		Reset(func() {
			viper.Set(keyLogLevel, "info")
			viper.Set(keyDevelopment, false)
		})

		cfg := workvisor.DefaultConfig()
		p, err := newProvider(cfg)
		So(err, ShouldBeNil)
		pp, ok := p.(*workvisor.ProcessProvider)
		So(ok, ShouldBeTrue)
		So(pp.Args, ShouldResemble, []string{"worker"})
		So(pp.Env, ShouldContain, "WORKVISOR_LOG_LEVEL=debug")
		So(pp.Env, ShouldContain, "WORKVISOR_DEVELOPMENT=true")

		Convey("In-process workers share the supervisor's logger", func() {
			cfg.WorkerMode = workvisor.ModeInProcess
			p, err := newProvider(cfg)
			So(err, ShouldBeNil)
			So(p, ShouldBeNil)
		})
	})
}
