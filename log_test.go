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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLog(t *testing.T) {
	Convey("Given a small log", t, func() {
		l := NewLog(3)
		logger := zap.New(l.Core(zapcore.InfoLevel)).Named("test")
		_, id := l.GetRecords(0)

		Convey("Records keep level and fields", func() {
			logger.With(zap.Int("worker", 2)).Info("hello", zap.String("k", "v"))
			logger.Debug("hidden")
			recs, nid := l.GetRecords(id)
			So(nid, ShouldEqual, id+1)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].Message, ShouldEqual, "hello")
			So(recs[0].Level, ShouldEqual, "info")
			So(recs[0].Logger, ShouldEqual, "test")
			So(recs[0].Fields["worker"], ShouldEqual, int64(2))
			So(recs[0].Fields["k"], ShouldEqual, "v")

			recs, same := l.GetRecords(nid)
			So(recs, ShouldBeNil)
			So(same, ShouldEqual, nid)
		})

		Convey("Only the newest records are kept", func() {
			for _, m := range []string{"a", "b", "c", "d", "e"} {
				logger.Warn(m)
			}
			recs, _ := l.GetRecords(0)
			So(len(recs), ShouldEqual, 3)
			So(recs[0].Message, ShouldEqual, "c")
			So(recs[2].Message, ShouldEqual, "e")
			So(recs[2].ID, ShouldEqual, recs[0].ID+2)
		})

		Convey("Watch wakes on new records", func() {
			go func() {
				time.Sleep(10 * time.Millisecond)
				logger.Error("boom", zap.Error(errors.New("bad")))
			}()
			So(l.Watch(id, 5*time.Second), ShouldNotEqual, id)
			cur := l.Watch(id, 0)
			So(l.Watch(cur, 10*time.Millisecond), ShouldEqual, cur)
		})

		Convey("Clear empties the log", func() {
			logger.Info("x")
			l.Clear()
			recs, nid := l.GetRecords(id)
			So(len(recs), ShouldEqual, 0)
			So(nid, ShouldNotEqual, id)
		})
	})
}
