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
)

var (
	ErrBindFailure     = errors.New("cannot bind listening socket")
	ErrWorkerCrash     = errors.New("worker exited unexpectedly")
	ErrWorkerHung      = errors.New("worker stopped sending heartbeats")
	ErrUnknownWorker   = errors.New("no such worker")
	ErrNotStarted      = errors.New("supervisor not started")
	ErrAlreadyStarted  = errors.New("supervisor already started")
	ErrShuttingDown    = errors.New("supervisor is shutting down")
	ErrNoInheritedFile = errors.New("inherited file descriptor missing")
)

// ConfigurationError reports a configuration that cannot be used.  It is
// always returned before any worker has been started.
type ConfigurationError struct {
	Field string
	Value interface{}
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is, or wraps, a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
