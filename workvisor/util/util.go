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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/workvisor/workvisor"
	"github.com/workvisor/workvisor/rest"
)

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// Age is how long ago t was, rounded down to the second.
func Age(t time.Time) string {
	d := time.Since(t)
	d -= d % time.Second
	return FormatDuration(d)
}

// Line formats one worker for tabular output.
func Line(w rest.WorkerInfo) string {
	return fmt.Sprintf("%4d %8d %-9s %9s %6d %9d %9d %8d",
		w.ID, w.Pid, w.State, Age(w.Started), w.Stats.InFlight,
		w.Stats.Accepted, w.Stats.Served, w.Stats.TimedOut)
}

// Header labels the columns produced by Line.
const Header = "  ID      PID STATE          UP  BUSY  ACCEPTED    SERVED TIMEDOUT"

func rank(s workvisor.WorkerState) int {
	switch s {
	case workvisor.StateStarting:
		return 0
	case workvisor.StateDraining:
		return 1
	}
	return 2
}

type sorted []rest.WorkerInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if a.State != b.State {
		// workers not yet serving go to the front
		return rank(a.State) < rank(b.State)
	}
	return a.ID < b.ID
}

func SortWorkers(items []rest.WorkerInfo) {
	sort.Sort(sorted(items))
}
