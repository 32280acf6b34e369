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

// Package app is the registry of application entry points.  A worker is
// configured with the name of an application, and instantiates its own
// handler from the registered factory, so that no application state is
// shared between workers.
//
// Applications register themselves from an init function, in the same
// manner as database/sql drivers:
//
//	func init() {
//		app.Register("myapp", func() (http.Handler, error) {
//			return newRouter(), nil
//		})
//	}
package app

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

var ErrUnknownApplication = errors.New("unknown application")

// Factory creates a fresh handler instance for one worker.  The handler
// must honor cancellation of the request context.
type Factory func() (http.Handler, error)

var (
	factories = map[string]Factory{}
	mx        sync.RWMutex
)

// Register makes an application available by name.  It panics if the
// name is empty, the factory is nil, or the name is already taken.
func Register(name string, f Factory) {
	mx.Lock()
	defer mx.Unlock()
	if name == "" || f == nil {
		panic("app: Register with empty name or nil factory")
	}
	if _, dup := factories[name]; dup {
		panic("app: Register called twice for " + name)
	}
	factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	mx.RLock()
	f, ok := factories[name]
	mx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownApplication, name)
	}
	return f, nil
}

// Load instantiates the named application.
func Load(name string) (http.Handler, error) {
	f, e := Lookup(name)
	if e != nil {
		return nil, e
	}
	h, e := f()
	if e != nil {
		return nil, fmt.Errorf("loading application %q: %w", name, e)
	}
	return h, nil
}

// Names returns the registered names, sorted.
func Names() []string {
	mx.RLock()
	rv := make([]string, 0, len(factories))
	for n := range factories {
		rv = append(rv, n)
	}
	mx.RUnlock()
	sort.Strings(rv)
	return rv
}
