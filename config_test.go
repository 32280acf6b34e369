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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/workvisor/workvisor/app"
	_ "github.com/workvisor/workvisor/app/demo"
)

func TestConfigValidate(t *testing.T) {
	Convey("The default configuration is valid", t, func() {
		So(DefaultConfig().Validate(), ShouldBeNil)
		So(DefaultConfig().RequestTimeout(), ShouldEqual, 600*time.Second)
		So(DefaultConfig().GracePeriod(), ShouldEqual, 605*time.Second)
	})

	Convey("The grace period covers the request timeout", t, func() {
		cfg := DefaultConfig()
		cfg.TimeoutSeconds = 10
		cfg.GraceSeconds = 2
		So(cfg.GracePeriod(), ShouldEqual, 10*time.Second+GraceMargin)
		cfg.GraceSeconds = 60
		So(cfg.GracePeriod(), ShouldEqual, 60*time.Second)
	})

	cases := []struct {
		name  string
		field string
		edit  func(*Config)
	}{
		{"no workers", KeyWorkers, func(c *Config) { c.Workers = 0 }},
		{"zero timeout", KeyTimeout, func(c *Config) { c.TimeoutSeconds = 0 }},
		{"negative timeout", KeyTimeout, func(c *Config) { c.TimeoutSeconds = -5 }},
		{"address without port", KeyBind, func(c *Config) { c.BindAddress = "localhost" }},
		{"port out of range", KeyBind, func(c *Config) { c.BindAddress = "0.0.0.0:70000" }},
		{"unknown app", KeyApp, func(c *Config) { c.Application = "nosuch" }},
		{"negative grace", KeyGraceTimeout, func(c *Config) { c.GraceSeconds = -1 }},
		{"negative connections", KeyMaxConnections, func(c *Config) { c.MaxConnections = -1 }},
		{"short heartbeat timeout", KeyHeartbeatTimeout, func(c *Config) {
			c.HeartbeatTimeout = c.HeartbeatInterval
		}},
		{"timeout without heartbeats", KeyHeartbeatInterval, func(c *Config) {
			c.HeartbeatInterval = 0
		}},
		{"bad policy", KeyTimeoutPolicy, func(c *Config) { c.TimeoutPolicy = "ignore" }},
		{"bad mode", KeyWorkerMode, func(c *Config) { c.WorkerMode = "thread" }},
	}
	for _, tc := range cases {
		Convey("Invalid: "+tc.name, t, func() {
			cfg := DefaultConfig()
			tc.edit(&cfg)
			e := cfg.Validate()
			So(e, ShouldNotBeNil)
			var ce *ConfigurationError
			So(errors.As(e, &ce), ShouldBeTrue)
			So(ce.Field, ShouldEqual, tc.field)
			So(e.Error(), ShouldStartWith, "invalid configuration: "+tc.field+"=")
		})
	}

	Convey("Unknown applications wrap the registry error", t, func() {
		cfg := DefaultConfig()
		cfg.Application = "nosuch"
		So(errors.Is(cfg.Validate(), app.ErrUnknownApplication), ShouldBeTrue)
	})

	Convey("Heartbeats can be disabled together", t, func() {
		cfg := DefaultConfig()
		cfg.HeartbeatInterval = 0
		cfg.HeartbeatTimeout = 0
		So(cfg.Validate(), ShouldBeNil)
	})
}

func TestConfigEnviron(t *testing.T) {
	Convey("Environ names every setting", t, func() {
		So(EnvName(KeyGraceTimeout), ShouldEqual, "WORKVISOR_GRACEFUL_TIMEOUT")

		cfg := DefaultConfig()
		cfg.Workers = 5
		got := map[string]string{}
		for _, kv := range cfg.Environ() {
			pair := strings.SplitN(kv, "=", 2)
			got[pair[0]] = pair[1]
		}
		want := map[string]string{
			"WORKVISOR_BIND":               "0.0.0.0:8080",
			"WORKVISOR_WORKERS":            "5",
			"WORKVISOR_TIMEOUT":            "600",
			"WORKVISOR_APP":                "demo",
			"WORKVISOR_GRACEFUL_TIMEOUT":   "0",
			"WORKVISOR_MAX_CONNECTIONS":    "1000",
			"WORKVISOR_HEARTBEAT_INTERVAL": "1s",
			"WORKVISOR_HEARTBEAT_TIMEOUT":  "30s",
			"WORKVISOR_TIMEOUT_POLICY":     "respond",
			"WORKVISOR_WORKER_MODE":        "process",
		}
		So(cmp.Diff(want, got), ShouldBeEmpty)
	})
}
