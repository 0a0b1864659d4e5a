package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/outfit/pkg/outfit/metrics"
)

func counterValue(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			match := true
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestObserve(t *testing.T) {
	m := metrics.New()
	m.Observe(metrics.Attempt{Type: "fresh", Success: true, Duration: time.Second, FilesWritten: 3, BytesWritten: 30, CacheHits: 1})
	m.Observe(metrics.Attempt{Type: "update", Success: false, Fallbacks: 1})
	m.Observe(metrics.Attempt{Success: false})

	assert.Equal(t, 1.0, counterValue(t, m, "outfit_installs_total", map[string]string{"type": "fresh", "result": "success"}))
	assert.Equal(t, 1.0, counterValue(t, m, "outfit_installs_total", map[string]string{"type": "update", "result": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, m, "outfit_installs_total", map[string]string{"type": "none", "result": "failure"}))
	assert.Equal(t, 3.0, counterValue(t, m, "outfit_files_written_total", nil))
	assert.Equal(t, 30.0, counterValue(t, m, "outfit_bytes_written_total", nil))
	assert.Equal(t, 1.0, counterValue(t, m, "outfit_cache_hits_total", nil))
	assert.Equal(t, 1.0, counterValue(t, m, "outfit_fallbacks_total", nil))
}

func TestWriteTextfile(t *testing.T) {
	m := metrics.New()
	m.Observe(metrics.Attempt{Type: "repair", Success: true, Duration: 250 * time.Millisecond})

	path := filepath.Join(t.TempDir(), "textfile", "outfit.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `outfit_installs_total{result="success",type="repair"} 1`)
	assert.Contains(t, text, "outfit_install_duration_seconds_count{type=\"repair\"} 1")
	assert.Contains(t, text, "# HELP outfit_fallbacks_total")
}

func TestNilMetrics(t *testing.T) {
	var m *metrics.Metrics
	m.Observe(metrics.Attempt{Type: "fresh"})
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))

	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
