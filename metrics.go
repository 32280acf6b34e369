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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "workvisor"

// Collector exports the state of a Supervisor.  It implements
// prometheus.Collector.
type Collector struct {
	s *Supervisor

	workers  *prometheus.Desc
	live     *prometheus.Desc
	restarts *prometheus.Desc
	spawns   *prometheus.Desc
	failures *prometheus.Desc
	inflight *prometheus.Desc
	accepted *prometheus.Desc
	served   *prometheus.Desc
	timedOut *prometheus.Desc
	panicked *prometheus.Desc
}

// NewCollector returns a Collector for s.
func NewCollector(s *Supervisor) *Collector {
	wl := []string{"worker"}
	desc := func(sub, name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name),
			help, labels, nil)
	}
	return &Collector{
		s:        s,
		workers:  desc("", "workers", "Workers by state.", []string{"state"}),
		live:     desc("", "live_workers", "Workers up and reporting.", nil),
		restarts: desc("", "restarts_total", "Workers respawned after a crash.", nil),
		spawns:   desc("", "spawns_total", "Workers spawned.", nil),
		failures: desc("", "spawn_failures_total", "Workers that failed to spawn.", nil),
		inflight: desc("worker", "inflight_requests", "Requests in flight.", wl),
		accepted: desc("worker", "accepted_total", "Requests admitted.", wl),
		served:   desc("worker", "served_total", "Requests completed.", wl),
		timedOut: desc("worker", "timed_out_total", "Requests abandoned for taking too long.", wl),
		panicked: desc("worker", "panicked_total", "Requests whose handler panicked.", wl),
	}
}

// Describe sends descriptions of metrics.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.workers, c.live, c.restarts, c.spawns, c.failures,
		c.inflight, c.accepted, c.served, c.timedOut, c.panicked,
	} {
		ch <- d
	}
}

// Collect sends the current values.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.s.Status()
	infos := c.s.Workers()

	states := map[WorkerState]int{
		StateStarting: 0,
		StateRunning:  0,
		StateDraining: 0,
	}
	for _, w := range infos {
		states[w.State]++
		id := strconv.Itoa(w.ID)
		ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue,
			float64(w.Stats.InFlight), id)
		ch <- prometheus.MustNewConstMetric(c.accepted, prometheus.CounterValue,
			float64(w.Stats.Accepted), id)
		ch <- prometheus.MustNewConstMetric(c.served, prometheus.CounterValue,
			float64(w.Stats.Served), id)
		ch <- prometheus.MustNewConstMetric(c.timedOut, prometheus.CounterValue,
			float64(w.Stats.TimedOut), id)
		ch <- prometheus.MustNewConstMetric(c.panicked, prometheus.CounterValue,
			float64(w.Stats.Panicked), id)
	}
	for state, n := range states {
		ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue,
			float64(n), string(state))
	}
	ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(st.Live))
	ch <- prometheus.MustNewConstMetric(c.restarts, prometheus.CounterValue, float64(st.Restarts))
	ch <- prometheus.MustNewConstMetric(c.spawns, prometheus.CounterValue, float64(st.Spawns))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.SpawnFailures))
}
