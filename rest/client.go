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

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to the admin API of a supervisor.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client
}

// LogInfo is a snapshot of the supervisor log.  Pass it back to
// WatchLog to wait for newer records.
type LogInfo struct {
	etag    string
	Records []LogRecord
}

// WorkerList is a snapshot of the pool.  Pass it back to WatchWorkers to
// wait for a change.
type WorkerList struct {
	etag    string
	Workers []WorkerInfo
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(path string) string {
	return c.base + path
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new ETag and any error.  If the
// value did not change, then the returned ETag will be "", and the error
// will be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait time.Duration, v interface{}) (string, error) {

	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollTimeHeader, strconv.Itoa(int(wait/time.Second)))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func readError(res *http.Response) error {
	e := &Error{}
	if b, err := io.ReadAll(res.Body); err == nil && json.Unmarshal(b, e) == nil && e.Message != "" {
		e.Code = res.StatusCode
		return e
	}
	return &Error{Code: res.StatusCode, Message: res.Status}
}

func (c *Client) post(url string) error {
	req, e := http.NewRequest("POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return readError(res)
	}
	return nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// Workers returns the current pool.
func (c *Client) Workers() (*WorkerList, error) {
	ctx, cancel := withTimeout()
	defer cancel()
	return c.WatchWorkers(ctx, nil)
}

// WatchWorkers waits for the pool to differ from last, for up to five
// minutes or until ctx is done.  If nothing changed, last is returned.  A
// nil last returns the current pool at once.
func (c *Client) WatchWorkers(ctx context.Context, last *WorkerList) (*WorkerList, error) {
	v := &WorkerList{}
	otag := ""
	if last != nil {
		otag = last.etag
	}
	etag, e := c.poll(ctx, c.url("/workers"), otag, MaxPollTime, &v.Workers)
	if e != nil {
		return nil, e
	}
	if etag == "" && last != nil {
		return last, nil
	}
	v.etag = etag
	return v, nil
}

// Worker returns one worker.
func (c *Client) Worker(id int) (*WorkerInfo, error) {
	ctx, cancel := withTimeout()
	defer cancel()
	v := &WorkerInfo{}
	if _, e := c.poll(ctx, c.url("/workers/"+strconv.Itoa(id)), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

// KillWorker asks the supervisor to kill, and so replace, a worker.
func (c *Client) KillWorker(id int) error {
	return c.post(c.url("/workers/" + strconv.Itoa(id) + "/kill"))
}

// Status returns the supervisor summary.
func (c *Client) Status() (*StatusInfo, error) {
	ctx, cancel := withTimeout()
	defer cancel()
	v := &StatusInfo{}
	if _, e := c.poll(ctx, c.url("/status"), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) pollLog(ctx context.Context, wait time.Duration, last *LogInfo) (*LogInfo, error) {
	v := &LogInfo{}
	otag := ""
	if last != nil {
		otag = last.etag
	}
	etag, e := c.poll(ctx, c.url("/log"), otag, wait, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" && last != nil {
		return last, nil
	}
	v.etag = etag
	return v, nil
}

// GetLog returns the supervisor log without waiting.
func (c *Client) GetLog() (*LogInfo, error) {
	ctx, cancel := withTimeout()
	defer cancel()
	return c.pollLog(ctx, 0, nil)
}

// WatchLog waits for records newer than last.
func (c *Client) WatchLog(ctx context.Context, last *LogInfo) (*LogInfo, error) {
	// Let the poll wait for up to 300 secs (5 minutes).
	return c.pollLog(ctx, MaxPollTime, last)
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:   strings.TrimRight(baseURI, "/"),
		client: &http.Client{Transport: t},
	}
}
