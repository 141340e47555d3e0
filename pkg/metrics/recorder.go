// Package metrics exports channel counters to prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rawbytedev/tamer"
)

// Recorder owns the per-channel counter vectors. Its Observer method is a
// tamer.WithObserver factory.
type Recorder struct {
	snapshots     *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	rebuilds      *prometheus.CounterVec
	growths       *prometheus.CounterVec
	fields        *prometheus.GaugeVec
	bufferCap     *prometheus.GaugeVec
	registeredFor prometheus.Registerer
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	label := []string{"channel"}
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      name,
			Help:      help,
		}, label)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      name,
			Help:      help,
		}, label)
	}
	r := &Recorder{
		snapshots:     counter("snapshots_total", "Snapshots delivered to every sink"),
		rejected:      counter("snapshots_rejected_total", "Snapshots refused by a sink or over the size limit"),
		bytes:         counter("encoded_bytes_total", "Payload bytes of delivered snapshots"),
		rebuilds:      counter("schema_rebuilds_total", "Schema versions built"),
		growths:       counter("buffer_growths_total", "Snapshot buffer reallocations"),
		fields:        gauge("schema_fields", "Fields in the current schema"),
		bufferCap:     gauge("buffer_capacity_bytes", "Snapshot buffer capacity"),
		registeredFor: reg,
	}
	for _, c := range []prometheus.Collector{r.snapshots, r.rejected, r.bytes, r.rebuilds, r.growths, r.fields, r.bufferCap} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observer returns the counters for one channel. Children are resolved
// here, once, so the snapshot path only does atomic adds.
func (r *Recorder) Observer(channel string) tamer.Observer {
	return &channelObserver{
		snapshots: r.snapshots.WithLabelValues(channel),
		rejected:  r.rejected.WithLabelValues(channel),
		bytes:     r.bytes.WithLabelValues(channel),
		rebuilds:  r.rebuilds.WithLabelValues(channel),
		growths:   r.growths.WithLabelValues(channel),
		fields:    r.fields.WithLabelValues(channel),
		bufferCap: r.bufferCap.WithLabelValues(channel),
	}
}

// Unregister removes the collectors from the registerer they were added to.
func (r *Recorder) Unregister() {
	for _, c := range []prometheus.Collector{r.snapshots, r.rejected, r.bytes, r.rebuilds, r.growths, r.fields, r.bufferCap} {
		r.registeredFor.Unregister(c)
	}
}

type channelObserver struct {
	snapshots prometheus.Counter
	rejected  prometheus.Counter
	bytes     prometheus.Counter
	rebuilds  prometheus.Counter
	growths   prometheus.Counter
	fields    prometheus.Gauge
	bufferCap prometheus.Gauge
}

func (o *channelObserver) SnapshotTaken(n int) {
	o.snapshots.Inc()
	o.bytes.Add(float64(n))
}

func (o *channelObserver) SnapshotRejected() { o.rejected.Inc() }

func (o *channelObserver) SchemaRebuilt(fields int) {
	o.rebuilds.Inc()
	o.fields.Set(float64(fields))
}

func (o *channelObserver) BufferGrown(capacity int) {
	o.growths.Inc()
	o.bufferCap.Set(float64(capacity))
}
