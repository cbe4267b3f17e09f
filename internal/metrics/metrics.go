// Package metrics defines the fire-and-forget metrics boundary. Collectors
// must never block or fail the main path.
package metrics

import "log/slog"

// Collector receives engine metrics.
type Collector interface {
	RecordMetric(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
}

// NopCollector discards all metrics.
type NopCollector struct{}

func (NopCollector) RecordMetric(string, float64, map[string]string)    {}
func (NopCollector) RecordHistogram(string, float64, map[string]string) {}

// LogCollector writes metrics as debug log lines.
type LogCollector struct {
	Logger *slog.Logger
}

func (c LogCollector) RecordMetric(name string, value float64, labels map[string]string) {
	c.log("metric", name, value, labels)
}

func (c LogCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	c.log("histogram", name, value, labels)
}

func (c LogCollector) log(kind, name string, value float64, labels map[string]string) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"name", name, "value", value}
	for k, v := range labels {
		args = append(args, k, v)
	}
	logger.Debug(kind, args...)
}
