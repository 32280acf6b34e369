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

//go:build windows

package workvisor

import (
	"os"
	"syscall"
)

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// Windows cannot deliver signals to other processes, so both kinds end
// up as a kill.
var (
	sigGraceful  os.Signal = os.Kill
	sigImmediate os.Signal = os.Kill
)
