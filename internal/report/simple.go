package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// SimpleWriter outputs plain text for terminal display.
//
// Rotations are written as one indented block per instance. The compact
// form shows the exit filter, the used addresses and any error; WithVerbose
// adds the baseline, timing and one line per renewal. Addresses are
// followed by their country when the rotation knows it.
type SimpleWriter struct {
	baseWriter
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose adds baseline, timing and per-renewal detail.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to output.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteRotations writes one block per instance.
func (w *SimpleWriter) WriteRotations(rotations []*Rotation) (int, error) {
	var sb strings.Builder

	for _, r := range rotations {
		sb.WriteString(fmt.Sprintf("instance %d (socks %s)\n", r.Instance, r.SocksAddr))
		if r.ExitNodes != "" {
			sb.WriteString(fmt.Sprintf("  exit nodes: %s\n", r.ExitNodes))
		}
		if w.verbose {
			baseline := r.BaselineIP
			if baseline == "" {
				baseline = "unknown"
			}
			sb.WriteString(fmt.Sprintf("  baseline:   %s\n", baseline))
			sb.WriteString(fmt.Sprintf("  started:    %s\n", r.StartedAt.Format(timeLayout)))
			sb.WriteString(fmt.Sprintf("  duration:   %s\n", r.Duration().Round(time.Millisecond)))
			for i, ip := range r.Renewed {
				sb.WriteString(fmt.Sprintf("  renewal %d:  %s\n", i+1, r.IPLabel(ip)))
			}
		}
		if len(r.UsedIPs) == 0 {
			sb.WriteString("  used ips:   none\n")
		} else {
			sb.WriteString(fmt.Sprintf("  used ips:   %s\n", strings.Join(r.IPLabels(r.UsedIPs), ", ")))
		}
		if r.Error != "" {
			sb.WriteString(fmt.Sprintf("  error:      %s\n", r.Error))
		}
	}

	return io.WriteString(w.output, sb.String())
}

// WriteHistory writes one line per observation followed by a summary.
func (w *SimpleWriter) WriteHistory(history *History) (int, error) {
	var sb strings.Builder

	if history == nil || len(history.Observations) == 0 {
		sb.WriteString("no observations recorded\n")
		return io.WriteString(w.output, sb.String())
	}

	for _, o := range history.Observations {
		sb.WriteString(fmt.Sprintf("%s  %-8s  %s\n", o.ObservedAt.Local().Format(timeLayout), o.Session, o.IP))
	}
	sb.WriteString(fmt.Sprintf("\n%d observations, %d distinct addresses\n",
		len(history.Observations), history.DistinctIPs()))

	return io.WriteString(w.output, sb.String())
}
