package metrics

import (
	"context"
	"sort"

	"github.com/mjasion/balena-home/dashboard/pkg/types"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// metricNames maps reading kinds to exported metric names
var metricNames = map[types.ReadingKind]string{
	types.KindTemperature: "dashboard_temperature_celsius",
	types.KindHumidity:    "dashboard_humidity_percent",
	types.KindDistance:    "dashboard_distance_centimeters",
	types.KindTouch:       "dashboard_touch_active",
	types.KindCounter:     "dashboard_counter_value",
	types.KindDevice:      "dashboard_device_on",
}

// MetricName returns the exported metric name for a reading kind
func MetricName(kind types.ReadingKind) (string, bool) {
	name, ok := metricNames[kind]
	return name, ok
}

type seriesKey struct {
	kind   types.ReadingKind
	source string
	device string
}

// BuildReadingTimeSeries groups readings into one series per kind, source
// and device. Samples keep arrival order; series are sorted by their
// labels so the output is deterministic.
func BuildReadingTimeSeries(ctx context.Context, readings []*types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildReadingTimeSeries")
	defer span.End()

	grouped := make(map[seriesKey][]prompb.Sample)
	var keys []seriesKey
	for _, r := range readings {
		if r == nil {
			continue
		}
		if _, ok := metricNames[r.Kind]; !ok {
			continue
		}
		key := seriesKey{kind: r.Kind, source: r.Source, device: r.Device}
		if _, seen := grouped[key]; !seen {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], prompb.Sample{
			Value:     r.Value,
			Timestamp: r.Timestamp.UnixMilli(),
		})
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		return keys[i].device < keys[j].device
	})

	timeSeries := make([]prompb.TimeSeries, 0, len(keys))
	for _, key := range keys {
		// remote_write requires labels sorted by name
		labels := []prompb.Label{{Name: "__name__", Value: metricNames[key.kind]}}
		if key.device != "" {
			labels = append(labels, prompb.Label{Name: "device", Value: key.device})
		}
		if key.source != "" {
			labels = append(labels, prompb.Label{Name: "source", Value: key.source})
		}
		timeSeries = append(timeSeries, prompb.TimeSeries{
			Labels:  labels,
			Samples: grouped[key],
		})
	}

	span.SetAttributes(attribute.Int("metrics.time_series_count", len(timeSeries)))
	span.SetStatus(codes.Ok, "time series built")

	return timeSeries, nil
}
