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

package app

import (
	"errors"
	"net/http"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("Applications are registered and loaded by name", t, func() {
		calls := 0
		Register("registry-test", func() (http.Handler, error) {
			calls++
			return http.NotFoundHandler(), nil
		})
		Register("registry-broken", func() (http.Handler, error) {
			return nil, errors.New("no config")
		})

		So(Names(), ShouldContain, "registry-test")

		h1, e := Load("registry-test")
		So(e, ShouldBeNil)
		So(h1, ShouldNotBeNil)
		_, e = Load("registry-test")
		So(e, ShouldBeNil)
		So(calls, ShouldEqual, 2)

		_, e = Load("registry-missing")
		So(errors.Is(e, ErrUnknownApplication), ShouldBeTrue)

		_, e = Load("registry-broken")
		So(e, ShouldNotBeNil)
		So(e.Error(), ShouldContainSubstring, "no config")

		So(func() {
			Register("registry-test", func() (http.Handler, error) { return nil, nil })
		}, ShouldPanic)
	})
}
