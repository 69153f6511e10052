// Package forecast holds the series math behind the premium conversion report:
// day bucketing, least-squares forecasting and z-score anomaly detection.
package forecast

import (
	"math"
	"sort"
	"time"
)

const DefaultBucketSizeDays = 7

type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

type Forecast struct {
	Forecast   float64    `json:"forecast"`
	Confidence Confidence `json:"confidence"`
	Slope      float64    `json:"slope"`
	Intercept  float64    `json:"intercept"`
	Points     int        `json:"points"`
}

type Anomaly struct {
	ZScore   float64 `json:"z_score"`
	Latest   float64 `json:"latest"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Baseline int     `json:"baseline"`
}

// BuildBucketedSeries counts samples into bucketSizeDays-wide buckets. The
// first bucket starts at UTC midnight of the earliest sample. Only non-empty
// buckets are returned, oldest first. A non-positive size falls back to 7.
func BuildBucketedSeries(samples []time.Time, bucketSizeDays int) []Point {
	if len(samples) == 0 {
		return nil
	}
	if bucketSizeDays <= 0 {
		bucketSizeDays = DefaultBucketSizeDays
	}
	sorted := make([]time.Time, len(samples))
	for i, s := range samples {
		sorted[i] = s.UTC()
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	first := sorted[0]
	anchor := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	width := time.Duration(bucketSizeDays) * 24 * time.Hour

	var out []Point
	lastIdx := int64(-1)
	for _, s := range sorted {
		idx := int64(s.Sub(anchor) / width)
		if idx != lastIdx {
			out = append(out, Point{Timestamp: anchor.Add(time.Duration(idx) * width)})
			lastIdx = idx
		}
		out[len(out)-1].Value++
	}
	return out
}

// ForecastNextValue fits y = a + b*i over (bucket index, value) and evaluates
// it at the next index. The result never goes below zero.
func ForecastNextValue(series []Point) Forecast {
	n := len(series)
	switch n {
	case 0:
		return Forecast{Confidence: ConfidenceLow}
	case 1:
		return Forecast{Forecast: math.Max(series[0].Value, 0), Intercept: series[0].Value, Confidence: ConfidenceLow, Points: 1}
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, p := range series {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	slope := 0.0
	if denom != 0 {
		slope = (fn*sumXY - sumX*sumY) / denom
	}
	intercept := (sumY - slope*sumX) / fn

	var rss float64
	for i, p := range series {
		r := p.Value - (intercept + slope*float64(i))
		rss += r * r
	}
	dof := fn - 2
	if dof < 1 {
		dof = 1
	}
	mean := sumY / fn
	cv := math.Sqrt(rss/dof) / math.Max(mean, 1)

	next := intercept + slope*fn
	if next < 0 {
		next = 0
	}
	return Forecast{
		Forecast:   next,
		Confidence: confidenceFor(n, cv),
		Slope:      slope,
		Intercept:  intercept,
		Points:     n,
	}
}

// confidenceFor grows with n and shrinks with the residual coefficient of variation.
func confidenceFor(n int, cv float64) Confidence {
	switch {
	case n >= 8 && cv <= 0.15:
		return ConfidenceHigh
	case n >= 4 && cv <= 0.35:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// DetectLatestAnomaly scores the last point against the mean and population
// standard deviation of the points before it. A flat baseline uses a standard
// deviation of 1. Fewer than two points yields a zero score.
func DetectLatestAnomaly(series []Point) Anomaly {
	n := len(series)
	if n == 0 {
		return Anomaly{}
	}
	latest := series[n-1].Value
	if n < 2 {
		return Anomaly{Latest: latest}
	}
	base := series[:n-1]
	var sum float64
	for _, p := range base {
		sum += p.Value
	}
	mean := sum / float64(len(base))
	var sq float64
	for _, p := range base {
		d := p.Value - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(base)))
	if std == 0 {
		std = 1
	}
	return Anomaly{
		ZScore:   (latest - mean) / std,
		Latest:   latest,
		Mean:     mean,
		StdDev:   std,
		Baseline: len(base),
	}
}
