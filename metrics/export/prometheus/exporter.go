package prometheus

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/stampauth"
	"github.com/MrEthical07/stampauth/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

// Source is satisfied by *stampauth.Engine.
type Source interface {
	MetricsSnapshot() stampauth.MetricsSnapshot
	NotifierDropped() uint64
}

// Exporter renders a Source on demand.
type Exporter struct {
	source Source
	labels []internaldefs.BucketLabel
}

func NewExporter(source Source) *Exporter {
	return &Exporter{source: source, labels: internaldefs.BucketLabels()}
}

// Handler serves Render with the exposition content type. Disabled metrics
// yield an empty 200 body.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(p.render())
	})
}

// Render returns the current metrics, or "" when metrics are disabled.
func (p *Exporter) Render() string {
	return string(p.render())
}

func (p *Exporter) render() []byte {
	if p == nil || p.source == nil {
		return nil
	}
	snap := p.source.MetricsSnapshot()
	dropped := p.source.NotifierDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return nil
	}

	var buf bytes.Buffer
	buf.Grow(4096)
	for _, def := range internaldefs.CounterDefs {
		writeHeader(&buf, def.Name, def.Help, "counter")
		writeSample(&buf, def.Name, "", strconv.FormatUint(snap.Counters[def.ID], 10))
	}
	for _, def := range internaldefs.HistogramDefs {
		p.writeHistogram(&buf, def, snap.Histograms[def.ID])
	}
	writeHeader(&buf, internaldefs.NotifierDroppedName, internaldefs.NotifierDroppedHelp, "counter")
	writeSample(&buf, internaldefs.NotifierDroppedName, "", strconv.FormatUint(dropped, 10))
	return buf.Bytes()
}

func (p *Exporter) writeHistogram(buf *bytes.Buffer, def internaldefs.HistogramDef, h stampauth.Histogram) {
	writeHeader(buf, def.Name, def.Help, "histogram")
	cumulative := internaldefs.Cumulative(h)
	for i, label := range p.labels {
		writeSample(buf, def.Name+"_bucket", `le="`+label.LE+`"`, strconv.FormatUint(cumulative[i], 10))
	}
	writeSample(buf, def.Name+"_sum", "", strconv.FormatFloat(h.Sum.Seconds(), 'g', -1, 64))
	writeSample(buf, def.Name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
}

func writeHeader(buf *bytes.Buffer, name, help, kind string) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, kind)
}

func writeSample(buf *bytes.Buffer, name, labels, value string) {
	buf.WriteString(name)
	if labels != "" {
		buf.WriteByte('{')
		buf.WriteString(labels)
		buf.WriteByte('}')
	}
	buf.WriteByte(' ')
	buf.WriteString(value)
	buf.WriteByte('\n')
}
