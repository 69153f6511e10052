// Package metrics derives the premium conversion report and the escrow
// reconciliation report from stored history. Both are run by the scheduler
// and persisted as snapshots.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"dealdesk/internal/config"
	"dealdesk/internal/domain"
	"dealdesk/internal/forecast"
	"dealdesk/internal/repo"
)

const (
	PremiumSnapshot   = "premium-conversion"
	ReconcileSnapshot = "escrow-reconcile"
)

type Service struct {
	Repo   repo.Repo
	Config *config.Config
	Log    zerolog.Logger
	Now    func() time.Time
}

func New(r repo.Repo, cfg *config.Config, log zerolog.Logger) Service {
	return Service{Repo: r, Config: cfg, Log: log, Now: time.Now}
}

// SeriesReport is one bucketed series with its forecast and anomaly check.
type SeriesReport struct {
	Total     int               `json:"total"`
	Series    []forecast.Point  `json:"series"`
	Forecast  forecast.Forecast `json:"forecast"`
	Anomaly   forecast.Anomaly  `json:"anomaly"`
	Anomalous bool              `json:"anomalous"`
}

type PremiumReport struct {
	GeneratedAt         time.Time    `json:"generated_at"`
	WindowStart         time.Time    `json:"window_start"`
	BucketSizeDays      int          `json:"bucket_size_days"`
	PremiumNegotiations SeriesReport `json:"premium_negotiations"`
	EnvelopesIssued     SeriesReport `json:"envelopes_issued"`
	Signatures          SeriesReport `json:"signatures"`
	// ConversionRate is signatures over issued envelopes in the window.
	ConversionRate float64 `json:"conversion_rate"`
}

type ReconcileReport struct {
	CheckedAt time.Time          `json:"checked_at"`
	Before    time.Time          `json:"before"`
	Stale     []repo.StaleEscrow `json:"stale"`
}

func (s Service) settings() (bucket, lookback int, threshold float64, staleHours int) {
	bucket, lookback, threshold, staleHours = forecast.DefaultBucketSizeDays, 84, 2.0, 72
	if s.Config == nil {
		return
	}
	m := s.Config.Metrics
	if m.BucketSizeDays > 0 {
		bucket = m.BucketSizeDays
	}
	if m.LookbackDays > 0 {
		lookback = m.LookbackDays
	}
	if m.AnomalyThreshold > 0 {
		threshold = m.AnomalyThreshold
	}
	if m.StaleEscrowHours > 0 {
		staleHours = m.StaleEscrowHours
	}
	return
}

// PremiumConversion builds the report for the lookback window ending at now.
func (s Service) PremiumConversion(ctx context.Context, now time.Time) (PremiumReport, error) {
	bucket, lookback, threshold, _ := s.settings()
	now = now.UTC()
	since := now.AddDate(0, 0, -lookback)

	premium, err := s.Repo.PremiumCreatedSince(ctx, since)
	if err != nil {
		return PremiumReport{}, err
	}
	issued, err := s.Repo.IntentTimesSince(ctx, domain.IntentEnvelopeIssued, since)
	if err != nil {
		return PremiumReport{}, err
	}
	signed, err := s.Repo.IntentTimesSince(ctx, domain.IntentParticipantSigned, since)
	if err != nil {
		return PremiumReport{}, err
	}

	report := PremiumReport{
		GeneratedAt:         now,
		WindowStart:         since,
		BucketSizeDays:      bucket,
		PremiumNegotiations: seriesReport(premium, bucket, threshold),
		EnvelopesIssued:     seriesReport(issued, bucket, threshold),
		Signatures:          seriesReport(signed, bucket, threshold),
	}
	if len(issued) > 0 {
		report.ConversionRate = float64(len(signed)) / float64(len(issued))
	}
	return report, nil
}

// CurrentPremium is PremiumConversion as of the service clock.
func (s Service) CurrentPremium(ctx context.Context) (PremiumReport, error) {
	return s.PremiumConversion(ctx, s.now())
}

func seriesReport(samples []time.Time, bucket int, threshold float64) SeriesReport {
	series := forecast.BuildBucketedSeries(samples, bucket)
	a := forecast.DetectLatestAnomaly(series)
	return SeriesReport{
		Total:     len(samples),
		Series:    series,
		Forecast:  forecast.ForecastNextValue(series),
		Anomaly:   a,
		Anomalous: a.Baseline > 0 && math.Abs(a.ZScore) >= threshold,
	}
}

// RunPremiumMetrics is the premium-metrics job.
func (s Service) RunPremiumMetrics(ctx context.Context) error {
	report, err := s.PremiumConversion(ctx, s.now())
	if err != nil {
		return err
	}
	if err := s.store(ctx, PremiumSnapshot, report.GeneratedAt, report); err != nil {
		return err
	}
	evt := s.Log.Info().
		Int("premium_negotiations", report.PremiumNegotiations.Total).
		Float64("conversion_rate", report.ConversionRate).
		Str("forecast_confidence", string(report.PremiumNegotiations.Forecast.Confidence))
	if report.PremiumNegotiations.Anomalous {
		evt = evt.Float64("z_score", report.PremiumNegotiations.Anomaly.ZScore)
	}
	evt.Msg("premium metrics computed")
	return nil
}

// ReconcileEscrow reports accepted negotiations whose escrow has not moved
// within the stale window. It only reads and reports.
func (s Service) ReconcileEscrow(ctx context.Context) (ReconcileReport, error) {
	_, _, _, staleHours := s.settings()
	now := s.now()
	before := now.Add(-time.Duration(staleHours) * time.Hour)
	stale, err := s.Repo.StaleEscrows(ctx, before)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{CheckedAt: now, Before: before, Stale: stale}
	for _, st := range stale {
		s.Log.Warn().
			Str("negotiation_id", st.NegotiationID).
			Str("funded_amount", st.FundedAmount.String()).
			Str("expected_amount", st.ExpectedAmount.String()).
			Time("last_update", st.UpdatedAt).
			Msg("escrow stalled")
	}
	return report, s.store(ctx, ReconcileSnapshot, now, report)
}

// RunEscrowReconcile is the escrow-reconcile job.
func (s Service) RunEscrowReconcile(ctx context.Context) error {
	_, err := s.ReconcileEscrow(ctx)
	return err
}

// LatestPremium returns the most recent stored premium report.
func (s Service) LatestPremium(ctx context.Context) (PremiumReport, error) {
	var report PremiumReport
	snap, err := s.Repo.LatestSnapshot(ctx, PremiumSnapshot)
	if errors.Is(err, repo.ErrNotFound) {
		return report, domain.Errorf(domain.CodeNotFound, "no premium metrics snapshot yet")
	}
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal([]byte(snap.Payload), &report); err != nil {
		return report, err
	}
	return report, nil
}

func (s Service) store(ctx context.Context, name string, at time.Time, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.Repo.InsertSnapshot(ctx, domain.MetricSnapshot{Name: name, GeneratedAt: at, Payload: string(b)})
	return err
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
