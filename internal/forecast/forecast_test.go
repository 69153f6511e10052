package forecast_test

import (
	"math"
	"testing"
	"time"

	"dealdesk/internal/forecast"
)

var day0 = time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

func days(d ...int) []time.Time {
	out := make([]time.Time, len(d))
	for i, n := range d {
		out[i] = day0.Add(time.Duration(n) * 24 * time.Hour)
	}
	return out
}

func values(v ...float64) []forecast.Point {
	out := make([]forecast.Point, len(v))
	for i, x := range v {
		out[i] = forecast.Point{Timestamp: day0.Add(time.Duration(i*7) * 24 * time.Hour), Value: x}
	}
	return out
}

func TestBuildBucketedSeriesWeekly(t *testing.T) {
	series := forecast.BuildBucketedSeries(days(8, 0, 4, 0), 7)
	if len(series) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(series))
	}
	if series[0].Value != 3 || series[1].Value != 1 {
		t.Fatalf("unexpected values %v %v", series[0].Value, series[1].Value)
	}
	anchor := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	if !series[0].Timestamp.Equal(anchor) || !series[1].Timestamp.Equal(anchor.AddDate(0, 0, 7)) {
		t.Fatalf("unexpected bucket starts %s %s", series[0].Timestamp, series[1].Timestamp)
	}
}

func TestBuildBucketedSeriesSkipsEmptyBuckets(t *testing.T) {
	series := forecast.BuildBucketedSeries(days(0, 30), 7)
	if len(series) != 2 || series[0].Value != 1 || series[1].Value != 1 {
		t.Fatalf("unexpected series %+v", series)
	}
	if got := forecast.BuildBucketedSeries(nil, 7); got != nil {
		t.Fatalf("expected nil for no samples")
	}
	if got := forecast.BuildBucketedSeries(days(0, 6), 0); len(got) != 1 {
		t.Fatalf("zero size should default to weekly, got %d buckets", len(got))
	}
}

func TestForecastNextValueIncreasing(t *testing.T) {
	f := forecast.ForecastNextValue(values(1, 2, 3, 4, 5))
	if f.Forecast <= 0 {
		t.Fatalf("expected positive forecast, got %v", f.Forecast)
	}
	if math.Abs(f.Forecast-6) > 1e-9 {
		t.Fatalf("perfect line should forecast 6, got %v", f.Forecast)
	}
	switch f.Confidence {
	case forecast.ConfidenceLow, forecast.ConfidenceMedium, forecast.ConfidenceHigh:
	default:
		t.Fatalf("unexpected confidence %q", f.Confidence)
	}
	if f.Confidence != forecast.ConfidenceMedium {
		t.Fatalf("five exact points should be MEDIUM, got %s", f.Confidence)
	}
}

func TestForecastConfidenceMonotonic(t *testing.T) {
	long := forecast.ForecastNextValue(values(10, 11, 12, 13, 14, 15, 16, 17, 18))
	if long.Confidence != forecast.ConfidenceHigh {
		t.Fatalf("long clean series should be HIGH, got %s", long.Confidence)
	}
	noisy := forecast.ForecastNextValue(values(10, 1, 25, 3, 30, 2, 28, 4, 35))
	if noisy.Confidence != forecast.ConfidenceLow {
		t.Fatalf("noisy series should be LOW, got %s", noisy.Confidence)
	}
	short := forecast.ForecastNextValue(values(10, 11))
	if short.Confidence != forecast.ConfidenceLow {
		t.Fatalf("two points should be LOW, got %s", short.Confidence)
	}
}

func TestForecastEdgeCases(t *testing.T) {
	if f := forecast.ForecastNextValue(nil); f.Forecast != 0 || f.Confidence != forecast.ConfidenceLow {
		t.Fatalf("empty series: %+v", f)
	}
	if f := forecast.ForecastNextValue(values(4)); f.Forecast != 4 {
		t.Fatalf("single point should carry forward, got %v", f.Forecast)
	}
	if f := forecast.ForecastNextValue(values(9, 5, 1)); f.Forecast != 0 {
		t.Fatalf("forecast should clamp at zero, got %v", f.Forecast)
	}
}

func TestDetectLatestAnomaly(t *testing.T) {
	a := forecast.DetectLatestAnomaly(values(2, 2, 20))
	if math.Abs(a.ZScore) <= 1 {
		t.Fatalf("expected outlier, got z=%v", a.ZScore)
	}
	if a.Mean != 2 || a.Baseline != 2 {
		t.Fatalf("unexpected baseline %+v", a)
	}
	b := forecast.DetectLatestAnomaly(values(3, 5, 4))
	if math.Abs(b.ZScore) > 1 {
		t.Fatalf("expected no anomaly, got z=%v", b.ZScore)
	}
}

func TestDetectLatestAnomalyShortSeries(t *testing.T) {
	for _, s := range [][]forecast.Point{nil, values(7)} {
		a := forecast.DetectLatestAnomaly(s)
		if a.ZScore != 0 || math.IsNaN(a.ZScore) {
			t.Fatalf("expected zero score sentinel, got %v", a.ZScore)
		}
	}
}
