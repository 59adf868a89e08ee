package stats_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/pkg/stats"
)

func TestDumpMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "p2ptrade_test_total",
		Help: "Test counter.",
	})
	registry.MustRegister(counter)
	counter.Inc()

	path := filepath.Join(t.TempDir(), "stats")
	require.NoError(t, stats.DumpMetrics(registry, path))
	require.NoError(t, stats.DumpMetrics(registry, path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(buf), "p2ptrade_test_total")

	err = stats.DumpMetrics(registry, filepath.Join(t.TempDir(), "missing", "stats"))
	require.Error(t, err)
}
