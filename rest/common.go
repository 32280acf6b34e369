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

// Package rest implements the administrative HTTP API of a workvisor
// supervisor, and a client for it.
package rest

import (
	"time"

	"github.com/workvisor/workvisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollTimeHeader asks the server to hold a conditional GET for up
	// to this many seconds, waiting for the resource to change from
	// the ETag given in If-None-Match.
	PollTimeHeader = "X-Workvisor-Poll-Time"

	// MaxPollTime bounds PollTimeHeader.
	MaxPollTime = 300 * time.Second
)

var ok = struct {
	Ok bool `json:"ok"`
}{true}

// WorkerInfo describes one worker.
type WorkerInfo = workvisor.WorkerInfo

// StatusInfo describes the supervisor.
type StatusInfo = workvisor.Status

// LogRecord is one entry of the supervisor log.
type LogRecord = workvisor.LogRecord

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
