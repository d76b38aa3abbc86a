package report

import "io"

// Writer renders reports to an output.
type Writer interface {
	// WriteRotations renders the results of one rotate run.
	WriteRotations(rotations []*Rotation) (int, error)

	// WriteHistory renders stored observations.
	WriteHistory(history *History) (int, error)
}

type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// timeLayout is used by the text and Markdown writers.
const timeLayout = "2006-01-02 15:04:05 MST"
