/*
 *
 * Copyright 2025 The ringbus authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ringbus"

// Metrics contains the transport-level metrics shared by every ring handle,
// adapter and pipeline in a process. Vectors are labelled by ring name.
type Metrics struct {
	// Producer side
	BytesPut    *prometheus.CounterVec
	PutsTotal   *prometheus.CounterVec
	PutTimeouts *prometheus.CounterVec

	// Consumer side
	BytesGot    *prometheus.CounterVec
	GetTimeouts *prometheus.CounterVec
	Backlog     *prometheus.GaugeVec

	// Directory
	SlotsReclaimed *prometheus.CounterVec
	Attachments    *prometheus.GaugeVec

	// Record pipeline
	Records        *prometheus.CounterVec
	RecordBytes    *prometheus.CounterVec
	MalformedTotal *prometheus.CounterVec

	// Recorder
	SegmentsOpened prometheus.Counter
	BytesRecorded  prometheus.Counter

	// Remote proxy
	ProxyClients prometheus.Gauge
}

// NewMetrics creates the metric set; it is registered by NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		BytesPut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ring",
			Name:      "bytes_put_total",
			Help:      "Bytes committed to a ring by its producer",
		}, []string{"ring"}),
		PutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ring",
			Name:      "puts_total",
			Help:      "Successful put operations",
		}, []string{"ring"}),
		PutTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ring",
			Name:      "put_timeouts_total",
			Help:      "Put operations that timed out waiting for free space",
		}, []string{"ring"}),
		BytesGot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ring",
			Name:      "bytes_got_total",
			Help:      "Bytes consumed from a ring (get and skip)",
		}, []string{"ring"}),
		GetTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ring",
			Name:      "get_timeouts_total",
			Help:      "Get operations that timed out waiting for data",
		}, []string{"ring"}),
		Backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ring",
			Name:      "consumer_backlog_bytes",
			Help:      "Unread bytes for a consumer after its last operation",
		}, []string{"ring", "slot"}),
		SlotsReclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "slots_reclaimed_total",
			Help:      "Consumer slots reclaimed from dead processes",
		}, []string{"ring"}),
		Attachments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "attachments",
			Help:      "Handles attached from this process",
		}, []string{"ring", "role"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "total",
			Help:      "Records seen by a pipeline, by type",
		}, []string{"pipeline", "type"}),
		RecordBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "bytes_total",
			Help:      "Record bytes seen by a pipeline, by type",
		}, []string{"pipeline", "type"}),
		MalformedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "malformed_total",
			Help:      "Records skipped because their body failed to decode",
		}, []string{"pipeline"}),
		SegmentsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "segments_opened_total",
			Help:      "Event file segments opened",
		}),
		BytesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "bytes_total",
			Help:      "Bytes written to event files",
		}),
		ProxyClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "clients",
			Help:      "Connected remote ring clients",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BytesPut, m.PutsTotal, m.PutTimeouts,
		m.BytesGot, m.GetTimeouts, m.Backlog,
		m.SlotsReclaimed, m.Attachments,
		m.Records, m.RecordBytes, m.MalformedTotal,
		m.SegmentsOpened, m.BytesRecorded,
		m.ProxyClients,
	}
}
