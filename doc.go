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

// Package workvisor provides a pre-fork style supervisor for HTTP
// workers.  A Supervisor binds one listening socket, starts a fixed
// pool of workers that all accept from it, replaces workers that die,
// and turns operating system signals into a graceful or an immediate
// shutdown of the pool.
//
// Workers are normally separate operating system processes: the
// supervisor re-executes its own binary, handing over the listening
// socket and a heartbeat pipe as inherited file descriptors.  They can
// also be run inside the supervisor process, which is how the test suite
// exercises the lifecycle.  Either way, a worker shares nothing with its
// siblings except the socket, so that one worker's failure never affects
// requests being served by another.
//
// Each worker enforces a per-request timeout (see package worker), and
// the application itself is an opaque http.Handler looked up by name
// (see package app).
package workvisor
