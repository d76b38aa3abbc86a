package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/torrotate/internal/database"
)

// JSONWriter outputs reports as JSON.
type JSONWriter struct {
	baseWriter
	indent string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint indents the output by two spaces.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = "  "
	}
}

// NewJSONWriter creates a JSONWriter writing compact JSON to output.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteRotations writes {"rotations": [...]}.
func (w *JSONWriter) WriteRotations(rotations []*Rotation) (int, error) {
	if rotations == nil {
		rotations = []*Rotation{}
	}
	return w.writeJSON(struct {
		Rotations []*Rotation `json:"rotations"`
	}{Rotations: rotations})
}

// WriteHistory writes {"observations": [...]}.
func (w *JSONWriter) WriteHistory(history *History) (int, error) {
	h := History{}
	if history != nil {
		h = *history
	}
	if h.Observations == nil {
		h.Observations = []database.Observation{}
	}
	return w.writeJSON(h)
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error
	if w.indent != "" {
		data, err = json.MarshalIndent(v, "", w.indent)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}
