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

package demo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/workvisor/workvisor/app"
)

func TestDemo(t *testing.T) {
	Convey("Given the registered demo application", t, func() {
		h, e := app.Load(Name)
		So(e, ShouldBeNil)

		do := func(req *http.Request) *httptest.ResponseRecorder {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec
		}

		Convey("The root says hello with CORS headers", func() {
			rec := do(httptest.NewRequest("GET", "/", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"hello"`)
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
		})

		Convey("Preflight requests are answered for POST routes", func() {
			req := httptest.NewRequest("OPTIONS", "/generate-report", nil)
			req.Header.Set("Origin", "https://example.org")
			req.Header.Set("Access-Control-Request-Method", "POST")
			rec := do(req)
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			So(rec.Header().Get("Access-Control-Allow-Methods"), ShouldEqual, "*")
		})

		Convey("Unknown routes still carry CORS headers", func() {
			rec := do(httptest.NewRequest("GET", "/nosuch", nil))
			So(rec.Code, ShouldEqual, http.StatusNotFound)
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
		})

		Convey("Echo returns its JSON body", func() {
			rec := do(httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":1}`)))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldEqual, `{"a":1}`)
		})

		Convey("Report generation requires a file_id", func() {
			rec := do(httptest.NewRequest("POST", "/generate-report", strings.NewReader(`{}`)))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(rec.Body.String(), ShouldEqual, `{"error":"Missing file_id"}`)

			rec = do(httptest.NewRequest("POST", "/generate-report", strings.NewReader(`{"file_id":"x"}`)))
			So(rec.Code, ShouldEqual, http.StatusNotImplemented)
		})

		Convey("Sleep gives up when the request is canceled", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			req := httptest.NewRequest("GET", "/sleep?seconds=10", nil).WithContext(ctx)
			start := time.Now()
			rec := do(req)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
			So(rec.Body.Len(), ShouldEqual, 0)
		})

		Convey("Sleep rejects a bad duration", func() {
			rec := do(httptest.NewRequest("GET", "/sleep?seconds=nope", nil))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
