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

// workvisord is the pre-fork HTTP worker supervisor.  It binds one
// listening socket, starts a fixed pool of worker processes that share it,
// and keeps that pool alive until told to stop.
package main

import (
	"fmt"
	"os"

	"github.com/workvisor/workvisor"
	_ "github.com/workvisor/workvisor/app/demo"
)

// exitCode maps the outcome of a command onto the process exit status:
// 0 on a clean shutdown, 2 for bad configuration (including an address
// that cannot be bound), and 1 for anything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case workvisor.IsConfigurationError(err):
		return 2
	default:
		return 1
	}
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}
