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
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/workvisor/workvisor/app"
	"github.com/workvisor/workvisor/worker"
)

// WorkerMode selects how workers are run.
type WorkerMode string

const (
	ModeProcess   WorkerMode = "process"
	ModeInProcess WorkerMode = "inprocess"
)

// Configuration keys.  The same names are used for command line flags,
// configuration file entries and (upper cased, with a prefix) environment
// variables.
const (
	KeyBind              = "bind"
	KeyWorkers           = "workers"
	KeyTimeout           = "timeout"
	KeyApp               = "app"
	KeyGraceTimeout      = "graceful-timeout"
	KeyMaxConnections    = "max-connections"
	KeyHeartbeatInterval = "heartbeat-interval"
	KeyHeartbeatTimeout  = "heartbeat-timeout"
	KeyTimeoutPolicy     = "timeout-policy"
	KeyWorkerMode        = "worker-mode"
	KeyWorkerID          = "worker-id"
)

const EnvPrefix = "WORKVISOR"

// EnvName returns the environment variable consulted for a key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Config is read once at startup and never changes afterwards.  Workers
// receive a copy.
type Config struct {
	BindAddress       string               `mapstructure:"bind"`
	Workers           int                  `mapstructure:"workers"`
	TimeoutSeconds    int                  `mapstructure:"timeout"`
	Application       string               `mapstructure:"app"`
	GraceSeconds      int                  `mapstructure:"graceful-timeout"`
	MaxConnections    int                  `mapstructure:"max-connections"`
	HeartbeatInterval time.Duration        `mapstructure:"heartbeat-interval"`
	HeartbeatTimeout  time.Duration        `mapstructure:"heartbeat-timeout"`
	TimeoutPolicy     worker.TimeoutPolicy `mapstructure:"timeout-policy"`
	WorkerMode        WorkerMode           `mapstructure:"worker-mode"`
}

// DefaultConfig matches the reference deployment: two workers on port
// 8080 with a long request timeout.
func DefaultConfig() Config {
	return Config{
		BindAddress:       "0.0.0.0:8080",
		Workers:           2,
		TimeoutSeconds:    600,
		Application:       "demo",
		GraceSeconds:      0,
		MaxConnections:    1000,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  30 * time.Second,
		TimeoutPolicy:     worker.PolicyRespond,
		WorkerMode:        ModeProcess,
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GraceMargin is added to the request timeout when computing the grace
// period, leaving time for the last responses to be written and for the
// workers to exit.
const GraceMargin = 5 * time.Second

// GracePeriod is how long shutdown waits for workers before killing them.
// GraceSeconds only ever lengthens it: a request admitted just before a
// drain may run for the full request timeout, so the wait is never
// shorter than that plus GraceMargin.
func (c Config) GracePeriod() time.Duration {
	grace := time.Duration(c.GraceSeconds) * time.Second
	if floor := c.RequestTimeout() + GraceMargin; grace < floor {
		grace = floor
	}
	return grace
}

func invalid(field string, value interface{}, reason string) error {
	return &ConfigurationError{Field: field, Value: value, Err: errors.New(reason)}
}

// Validate checks every field.  The first problem found is returned as a
// *ConfigurationError.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return invalid(KeyWorkers, c.Workers, "must be at least 1")
	}
	if c.TimeoutSeconds <= 0 {
		return invalid(KeyTimeout, c.TimeoutSeconds, "must be positive")
	}
	if e := validateAddress(c.BindAddress); e != nil {
		return &ConfigurationError{Field: KeyBind, Value: c.BindAddress, Err: e}
	}
	if _, e := app.Lookup(c.Application); e != nil {
		return &ConfigurationError{Field: KeyApp, Value: c.Application, Err: e}
	}
	if c.GraceSeconds < 0 {
		return invalid(KeyGraceTimeout, c.GraceSeconds, "must not be negative")
	}
	if c.MaxConnections < 0 {
		return invalid(KeyMaxConnections, c.MaxConnections, "must not be negative")
	}
	if c.HeartbeatInterval < 0 {
		return invalid(KeyHeartbeatInterval, c.HeartbeatInterval, "must not be negative")
	}
	if c.HeartbeatTimeout < 0 {
		return invalid(KeyHeartbeatTimeout, c.HeartbeatTimeout, "must not be negative")
	}
	if c.HeartbeatTimeout > 0 && c.HeartbeatTimeout <= c.HeartbeatInterval {
		return invalid(KeyHeartbeatTimeout, c.HeartbeatTimeout,
			"must be longer than the heartbeat interval")
	}
	if c.HeartbeatTimeout > 0 && c.HeartbeatInterval == 0 {
		return invalid(KeyHeartbeatInterval, c.HeartbeatInterval,
			"heartbeats are required when a heartbeat timeout is set")
	}
	if _, e := worker.ParsePolicy(string(c.TimeoutPolicy)); e != nil {
		return &ConfigurationError{Field: KeyTimeoutPolicy, Value: c.TimeoutPolicy, Err: e}
	}
	switch c.WorkerMode {
	case ModeProcess, ModeInProcess:
	default:
		return invalid(KeyWorkerMode, c.WorkerMode, "must be process or inprocess")
	}
	return nil
}

func validateAddress(addr string) error {
	_, port, e := net.SplitHostPort(addr)
	if e != nil {
		return e
	}
	n, e := strconv.Atoi(port)
	if e != nil || n < 0 || n > 65535 {
		return fmt.Errorf("bad port %q", port)
	}
	return nil
}

// Environ renders the configuration as environment variables, which is
// how worker processes receive it.
func (c Config) Environ() []string {
	return []string{
		EnvName(KeyBind) + "=" + c.BindAddress,
		EnvName(KeyWorkers) + "=" + strconv.Itoa(c.Workers),
		EnvName(KeyTimeout) + "=" + strconv.Itoa(c.TimeoutSeconds),
		EnvName(KeyApp) + "=" + c.Application,
		EnvName(KeyGraceTimeout) + "=" + strconv.Itoa(c.GraceSeconds),
		EnvName(KeyMaxConnections) + "=" + strconv.Itoa(c.MaxConnections),
		EnvName(KeyHeartbeatInterval) + "=" + c.HeartbeatInterval.String(),
		EnvName(KeyHeartbeatTimeout) + "=" + c.HeartbeatTimeout.String(),
		EnvName(KeyTimeoutPolicy) + "=" + string(c.TimeoutPolicy),
		EnvName(KeyWorkerMode) + "=" + string(c.WorkerMode),
	}
}
