package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCountingReader(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_bytes_read"})
	r := NewCountingReader(bytes.NewReader([]byte("hello world")), c)

	buf := make([]byte, 5)
	if _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}

	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 5 {
		t.Errorf("counter = %v, want 5", got)
	}
}

func TestCountingWriter(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_bytes_written"})
	var buf bytes.Buffer
	w := NewCountingWriter(&buf, c)

	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 5 {
		t.Errorf("counter = %v, want 5", got)
	}
}
