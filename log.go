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
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// MaxLogRecords is the capacity of a Log created by NewLog.
const MaxLogRecords = 1000

// LogRecord is one retained log entry.
type LogRecord struct {
	ID      int64                  `json:"id,string"`
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Logger  string                 `json:"logger,omitempty"`
	Message string                 `json:"msg"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Log keeps the most recent log entries in memory, for the admin API.
// It is a zapcore.Core, normally teed alongside the console core.
type Log struct {
	records []LogRecord
	count   int
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

// NewLog returns a Log retaining up to max records.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records: make([]LogRecord, max),
		// IDs start from a timestamp, so that they are not reused by a
		// restarted supervisor.
		id:  time.Now().UnixNano(),
		cvs: make(map[*sync.Cond]bool),
	}
}

func (l *Log) lock() {
	l.mx.Lock()
}

func (l *Log) unlock() {
	l.mx.Unlock()
}

func (l *Log) add(rec LogRecord) {
	l.lock()
	l.id++
	rec.ID = l.id
	// count keeps going past the capacity; it locates the next slot.
	l.records[l.count%len(l.records)] = rec
	l.count++
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.unlock()
}

// Core returns a zapcore.Core writing into l at or above level.
func (l *Log) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &logCore{LevelEnabler: level, log: l}
}

// GetRecords returns the stored records, oldest first, and an ID
// suitable for use as an ETag.  If last equals the current ID, nothing
// has changed and no records are returned.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.lock()
	defer l.unlock()
	if l.id == last {
		return nil, last
	}
	n := l.count
	if n > len(l.records) {
		n = len(l.records)
	}
	recs := make([]LogRecord, 0, n)
	for i := l.count - n; i < l.count; i++ {
		recs = append(recs, l.records[i%len(l.records)])
	}
	return recs, l.id
}

// ID returns the ID of the newest record.
func (l *Log) ID() int64 {
	l.lock()
	defer l.unlock()
	return l.id
}

// Watch waits up to expire for a record newer than last, and returns the
// current ID.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.lock()
			expired = true
			cv.Broadcast()
			l.unlock()
		})
	} else {
		expired = true
	}

	l.lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	last = l.id
	l.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// Clear discards every record.
func (l *Log) Clear() {
	l.lock()
	l.count = 0
	l.id++
	l.unlock()
}

type logCore struct {
	zapcore.LevelEnabler
	log    *Log
	fields []zapcore.Field
}

func (c *logCore) With(fields []zapcore.Field) zapcore.Core {
	nc := &logCore{LevelEnabler: c.LevelEnabler, log: c.log}
	nc.fields = append(append(nc.fields, c.fields...), fields...)
	return nc
}

func (c *logCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *logCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	rec := LogRecord{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Logger:  ent.LoggerName,
		Message: ent.Message,
	}
	if len(enc.Fields) != 0 {
		rec.Fields = enc.Fields
	}
	c.log.add(rec)
	return nil
}

func (c *logCore) Sync() error {
	return nil
}
