package metrics_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealdesk/internal/analytics"
	"dealdesk/internal/config"
	"dealdesk/internal/db"
	"dealdesk/internal/domain"
	"dealdesk/internal/engine"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/forecast"
	"dealdesk/internal/metrics"
	"dealdesk/internal/migrate"
	"dealdesk/internal/repo"
)

var reportTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	eng      engine.Engine
	recorder *analytics.Recorder
	svc      metrics.Service
	ctx      context.Context
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := zerolog.New(io.Discard)
	cfg := config.Default()
	svc := metrics.New(repo.Repo{DB: conn}, cfg, log)
	svc.Now = func() time.Time { return reportTime }
	return fixture{
		eng:      engine.New(conn, cfg, nil, log),
		recorder: analytics.New(repo.Repo{DB: conn}),
		svc:      svc,
		ctx:      context.Background(),
	}
}

func (f fixture) createAt(t *testing.T, at time.Time, tier domain.PremiumTier) string {
	t.Helper()
	eng := f.eng
	eng.Now = func() time.Time { return at }
	n, err := eng.CreateNegotiation(f.ctx, engine.NegotiationCreateOptions{
		ListingID: "listing", BuyerID: "b", SellerID: "s", PremiumTier: string(tier),
		Price: decimal.NewFromInt(10), Quantity: 1, Viewer: auth.Viewer{ID: "s"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return n.ID
}

func (f fixture) intent(t *testing.T, evt domain.ContractIntentEventType, at time.Time) {
	t.Helper()
	if _, err := f.recorder.RecordContractIntentEvent(f.ctx, analytics.IntentInput{
		NegotiationID: "n", ContractID: "c", EventType: string(evt), OccurredAt: at.Format(time.RFC3339),
	}); err != nil {
		t.Fatal(err)
	}
}

func day(d int) time.Time { return time.Date(2024, 5, d, 9, 0, 0, 0, time.UTC) }

func TestPremiumConversionReport(t *testing.T) {
	f := newFixture(t)
	for _, d := range []int{1, 1, 5, 9} {
		f.createAt(t, day(d), domain.TierPremium)
	}
	f.createAt(t, day(2), domain.TierStandard)
	for _, d := range []int{2, 3, 10, 11} {
		f.intent(t, domain.IntentEnvelopeIssued, day(d))
	}
	f.intent(t, domain.IntentEnvelopeIssued, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	f.intent(t, domain.IntentParticipantSigned, day(4))
	f.intent(t, domain.IntentParticipantSigned, day(12))

	report, err := f.svc.PremiumConversion(f.ctx, reportTime)
	if err != nil {
		t.Fatal(err)
	}
	p := report.PremiumNegotiations
	if p.Total != 4 || len(p.Series) != 2 || p.Series[0].Value != 3 || p.Series[1].Value != 1 {
		t.Fatalf("unexpected premium series %+v", p)
	}
	if !p.Series[0].Timestamp.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("series anchored at %s", p.Series[0].Timestamp)
	}
	if p.Forecast.Confidence != forecast.ConfidenceLow || p.Forecast.Points != 2 {
		t.Fatalf("unexpected forecast %+v", p.Forecast)
	}
	if report.EnvelopesIssued.Total != 4 || report.Signatures.Total != 2 {
		t.Fatalf("window totals: issued=%d signed=%d", report.EnvelopesIssued.Total, report.Signatures.Total)
	}
	if report.ConversionRate != 0.5 {
		t.Fatalf("conversion rate = %v", report.ConversionRate)
	}
}

func TestPremiumMetricsJobStoresSnapshot(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.LatestPremium(f.ctx); domain.CodeOf(err) != domain.CodeNotFound {
		t.Fatalf("expected NOT_FOUND before first run, got %v", err)
	}
	f.createAt(t, day(20), domain.TierPremiumSLA)
	if err := f.svc.RunPremiumMetrics(f.ctx); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.LatestPremium(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.PremiumNegotiations.Total != 1 || !got.GeneratedAt.Equal(reportTime) {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestEmptyHistoryIsNotAnomalous(t *testing.T) {
	f := newFixture(t)
	report, err := f.svc.PremiumConversion(f.ctx, reportTime)
	if err != nil {
		t.Fatal(err)
	}
	if report.PremiumNegotiations.Anomalous || report.ConversionRate != 0 || report.PremiumNegotiations.Forecast.Forecast != 0 {
		t.Fatalf("unexpected empty report %+v", report)
	}
}

func TestReconcileEscrowFindsStalledDeals(t *testing.T) {
	f := newFixture(t)
	old := f.createAt(t, day(1), domain.TierStandard)
	fresh := f.createAt(t, day(31), domain.TierStandard)
	for _, id := range []string{old, fresh} {
		eng := f.eng
		at := day(1)
		if id == fresh {
			at = day(31)
		}
		eng.Now = func() time.Time { return at }
		if _, err := eng.AcceptOffer(f.ctx, id, auth.Viewer{ID: "b"}); err != nil {
			t.Fatal(err)
		}
	}

	report, err := f.svc.ReconcileEscrow(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Stale) != 1 || report.Stale[0].NegotiationID != old {
		t.Fatalf("unexpected stale list %+v", report.Stale)
	}
	if !report.Stale[0].ExpectedAmount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected amount = %s", report.Stale[0].ExpectedAmount)
	}
}
