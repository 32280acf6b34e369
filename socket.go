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
	"context"
	"net"
	"os"
)

// Listen binds the shared TCP socket.  Address reuse is enabled so that a
// restarted supervisor can bind while old connections linger in
// TIME_WAIT.
func Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	return lc.Listen(context.Background(), "tcp", addr)
}

type filer interface {
	File() (*os.File, error)
}

// listenerFile returns a duplicate descriptor of the listening socket.
// Closing the duplicate, or a listener made from it, leaves the original
// untouched.
func listenerFile(ln net.Listener) (*os.File, error) {
	f, ok := ln.(filer)
	if !ok {
		return nil, &net.OpError{Op: "dup", Net: ln.Addr().Network(),
			Addr: ln.Addr(), Err: os.ErrInvalid}
	}
	return f.File()
}

// dupListener returns an independent listener on the same socket.
func dupListener(ln net.Listener) (net.Listener, error) {
	f, e := listenerFile(ln)
	if e != nil {
		return nil, e
	}
	defer f.Close()
	return net.FileListener(f)
}
