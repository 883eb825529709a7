package monitor

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// ExportCSV flattens the metric buffer to a CSV file. Label keys become
// extra columns, sorted for a stable header. Best effort: the export is a
// point-in-time copy, not a transactional dump.
func (m *Monitor) ExportCSV(path string) error {
	metrics := m.metrics.snapshot()

	labelKeys := map[string]struct{}{}
	for _, metric := range metrics {
		for k := range metric.Labels {
			labelKeys[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(labelKeys))
	for k := range labelKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"timestamp", "name", "value", "model_version"}, keys...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	for _, metric := range metrics {
		row := []string{
			metric.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			metric.Name,
			strconv.FormatFloat(metric.Value, 'f', -1, 64),
			metric.ModelVersion,
		}
		for _, k := range keys {
			row = append(row, metric.Labels[k])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
