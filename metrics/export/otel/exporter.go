package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/stampauth"
	"github.com/MrEthical07/stampauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is satisfied by *stampauth.Engine.
type Source interface {
	MetricsSnapshot() stampauth.MetricsSnapshot
	NotifierDropped() uint64
}

type counter struct {
	id  stampauth.MetricID
	ins metric.Int64ObservableCounter
}

// histogram mirrors one engine histogram as three monotonic instruments:
// cumulative bucket counts keyed by an "le" attribute, total count and sum
// in seconds.
type histogram struct {
	id      stampauth.MetricID
	buckets metric.Int64ObservableCounter
	les     []metric.ObserveOption
	count   metric.Int64ObservableCounter
	sum     metric.Float64ObservableCounter
}

// Exporter holds the instrument registration. Close unregisters it.
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     []counter
	histograms   []histogram
	dropped      metric.Int64ObservableCounter
}

// NewExporter registers instruments on meter that read from source on every
// collection.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exp := &Exporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		exp.counters = append(exp.counters, counter{id: def.ID, ins: ins})
		observables = append(observables, ins)
	}

	labels := internaldefs.BucketLabels()
	for _, def := range internaldefs.HistogramDefs {
		h, err := newHistogram(meter, def, labels)
		if err != nil {
			return nil, err
		}
		exp.histograms = append(exp.histograms, h)
		observables = append(observables, h.buckets, h.count, h.sum)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.NotifierDroppedName,
		metric.WithDescription(internaldefs.NotifierDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.NotifierDroppedName, err)
	}
	exp.dropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(exp.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exp.registration = reg
	return exp, nil
}

func newHistogram(meter metric.Meter, def internaldefs.HistogramDef, labels []internaldefs.BucketLabel) (histogram, error) {
	h := histogram{id: def.ID}
	var err error
	if h.buckets, err = meter.Int64ObservableCounter(def.Name+"_bucket",
		metric.WithDescription(def.Help+" Cumulative count per upper bound."),
	); err != nil {
		return h, fmt.Errorf("create %s_bucket: %w", def.Name, err)
	}
	if h.count, err = meter.Int64ObservableCounter(def.Name+"_count",
		metric.WithDescription(def.Help+" Total observations."),
	); err != nil {
		return h, fmt.Errorf("create %s_count: %w", def.Name, err)
	}
	if h.sum, err = meter.Float64ObservableCounter(def.Name+"_sum",
		metric.WithDescription(def.Help+" Sum of observations."),
		metric.WithUnit("s"),
	); err != nil {
		return h, fmt.Errorf("create %s_sum: %w", def.Name, err)
	}

	h.les = make([]metric.ObserveOption, len(labels))
	for i, l := range labels {
		h.les[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", l.LE)))
	}
	return h, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.ins, int64(snap.Counters[c.id]))
	}
	for _, h := range e.histograms {
		hist := snap.Histograms[h.id]
		cumulative := internaldefs.Cumulative(hist)
		for i, opt := range h.les {
			o.ObserveInt64(h.buckets, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		o.ObserveFloat64(h.sum, hist.Sum.Seconds())
	}
	o.ObserveInt64(e.dropped, int64(e.source.NotifierDropped()))
	return nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
