package engine_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dealdesk/internal/config"
	"dealdesk/internal/db"
	"dealdesk/internal/domain"
	"dealdesk/internal/engine"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/events"
	"dealdesk/internal/migrate"
)

var (
	buyer    = auth.Viewer{ID: "buyer-1"}
	seller   = auth.Viewer{ID: "seller-1"}
	outsider = auth.Viewer{ID: "mallory"}
	admin    = auth.Viewer{ID: "ops", Admin: true}
)

type testEnv struct {
	Engine    engine.Engine
	Published *events.Recorder
	Ctx       context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rec := &events.Recorder{}
	eng := engine.New(conn, config.Default(), rec, zerolog.New(io.Discard))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Published: rec, Ctx: context.Background()}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (env testEnv) open(t *testing.T) engine.NegotiationView {
	t.Helper()
	n, err := env.Engine.CreateNegotiation(env.Ctx, engine.NegotiationCreateOptions{
		ListingID: "listing-9",
		BuyerID:   buyer.ID,
		SellerID:  seller.ID,
		Price:     dec("100.00"),
		Quantity:  2,
		Viewer:    buyer,
	})
	if err != nil {
		t.Fatalf("create negotiation: %v", err)
	}
	return n
}

// accepted drives a fresh negotiation to ACCEPTED at 120 x 2.
func (env testEnv) accepted(t *testing.T) engine.NegotiationView {
	t.Helper()
	n := env.open(t)
	if _, err := env.Engine.CounterOffer(env.Ctx, engine.OfferOptions{
		NegotiationID: n.ID, Price: dec("120"), Quantity: 2, Viewer: seller,
	}); err != nil {
		t.Fatalf("counter: %v", err)
	}
	n, err := env.Engine.AcceptOffer(env.Ctx, n.ID, buyer)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return n
}

func requireCode(t *testing.T, err error, code domain.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := domain.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func TestNegotiationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	n := env.open(t)
	if n.Status != domain.StatusCreated || n.Version != 1 || n.ViewerRole != domain.RoleBuyer {
		t.Fatalf("unexpected created view: %+v", n)
	}

	n, err := env.Engine.CounterOffer(env.Ctx, engine.OfferOptions{
		NegotiationID: n.ID, Price: dec("120"), Quantity: 2, Viewer: seller,
	})
	if err != nil || n.Status != domain.StatusCountered || n.Version != 2 {
		t.Fatalf("counter: %v %+v", err, n)
	}
	if len(n.Offers) != 2 || n.Offers[1].Seq != 2 {
		t.Fatalf("expected two offers, got %+v", n.Offers)
	}

	n, err = env.Engine.AcceptOffer(env.Ctx, n.ID, buyer)
	if err != nil || n.Status != domain.StatusAccepted {
		t.Fatalf("accept: %v", err)
	}
	if n.Escrow == nil || !n.Escrow.ExpectedAmount.Equal(dec("240")) {
		t.Fatalf("expected escrow of 240, got %+v", n.Escrow)
	}

	n, err = env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("100"))
	if err != nil || n.Status != domain.StatusAccepted {
		t.Fatalf("partial fund: %v %s", err, n.Status)
	}
	if n.FundedRatio <= 0.41 || n.FundedRatio >= 0.42 {
		t.Fatalf("funded ratio = %v", n.FundedRatio)
	}
	n, err = env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("140"))
	if err != nil || n.Status != domain.StatusEscrowFunded || n.FundedRatio != 1 {
		t.Fatalf("full fund: %v %+v", err, n)
	}

	n, err = env.Engine.ReleaseEscrow(env.Ctx, n.ID, buyer)
	if err != nil || n.Status != domain.StatusEscrowFunded {
		t.Fatalf("first approval: %v %s", err, n.Status)
	}
	if got := n.PendingApprovals[domain.EscrowActionRelease]; len(got) != 1 || got[0] != buyer.ID {
		t.Fatalf("pending approvals = %v", n.PendingApprovals)
	}
	n, err = env.Engine.ReleaseEscrow(env.Ctx, n.ID, seller)
	if err != nil || n.Status != domain.StatusEscrowReleased {
		t.Fatalf("second approval: %v %s", err, n.Status)
	}
	if n.Escrow.ReleasedAt == nil || len(n.PendingApprovals) != 0 {
		t.Fatalf("escrow not settled: %+v %v", n.Escrow, n.PendingApprovals)
	}

	n, err = env.Engine.CompleteNegotiation(env.Ctx, n.ID, seller)
	if err != nil || n.Status != domain.StatusCompleted {
		t.Fatalf("complete: %v", err)
	}

	var types []string
	for _, evt := range env.Published.Events() {
		types = append(types, evt.Type)
	}
	want := []string{
		engine.EventNegotiationCreated, engine.EventOfferCountered, engine.EventOfferAccepted,
		engine.EventEscrowPartiallyFunded, engine.EventEscrowFunded, engine.EventEscrowReleaseApproved,
		engine.EventEscrowReleased, engine.EventNegotiationCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("published %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}

	audit, err := env.Engine.Events.List(env.Ctx, n.ID, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(audit) != len(want) {
		t.Fatalf("expected %d audit rows, got %d", len(want), len(audit))
	}
}

func TestCompletedNegotiationRejectsEveryTransition(t *testing.T) {
	env := newTestEnv(t)
	n := env.accepted(t)
	if _, err := env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("240")); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReleaseEscrow(env.Ctx, n.ID, admin); err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.CompleteNegotiation(env.Ctx, n.ID, buyer)
	if err != nil {
		t.Fatal(err)
	}

	attempts := map[string]func() error{
		"counter": func() error {
			_, err := env.Engine.CounterOffer(env.Ctx, engine.OfferOptions{NegotiationID: n.ID, Price: dec("1"), Quantity: 1, Viewer: seller})
			return err
		},
		"accept":   func() error { _, err := env.Engine.AcceptOffer(env.Ctx, n.ID, seller); return err },
		"fund":     func() error { _, err := env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("1")); return err },
		"release":  func() error { _, err := env.Engine.ReleaseEscrow(env.Ctx, n.ID, admin); return err },
		"refund":   func() error { _, err := env.Engine.RefundEscrow(env.Ctx, n.ID, admin); return err },
		"complete": func() error { _, err := env.Engine.CompleteNegotiation(env.Ctx, n.ID, buyer); return err },
		"cancel":   func() error { _, err := env.Engine.CancelNegotiation(env.Ctx, n.ID, buyer, ""); return err },
	}
	for name, attempt := range attempts {
		t.Run(name, func(t *testing.T) {
			requireCode(t, attempt(), domain.CodeInvalidTransition)
		})
	}

	after, err := env.Engine.GetNegotiationWithAccess(env.Ctx, n.ID, buyer)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != domain.StatusCompleted || after.Version != done.Version {
		t.Fatalf("negotiation changed: %s v%d", after.Status, after.Version)
	}
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	n := env.open(t)
	if _, err := env.Engine.CounterOffer(env.Ctx, engine.OfferOptions{
		NegotiationID: n.ID, Price: dec("110"), Quantity: 2, Viewer: seller,
	}); err != nil {
		t.Fatal(err)
	}

	var ok, rejected int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := env.Engine.AcceptOffer(env.Ctx, n.ID, buyer)
			switch domain.CodeOf(err) {
			case "":
				atomic.AddInt32(&ok, 1)
			case domain.CodeInvalidTransition, domain.CodeConflict:
				atomic.AddInt32(&rejected, 1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok != 1 || rejected != 7 {
		t.Fatalf("ok=%d rejected=%d", ok, rejected)
	}
}

func TestAcceptOwnOfferFails(t *testing.T) {
	env := newTestEnv(t)
	n := env.open(t)
	_, err := env.Engine.AcceptOffer(env.Ctx, n.ID, buyer)
	requireCode(t, err, domain.CodeValidationFailed)
	if _, err := env.Engine.AcceptOffer(env.Ctx, n.ID, seller); err != nil {
		t.Fatalf("seller accept: %v", err)
	}
}

func TestFundEscrowRejectsOverfunding(t *testing.T) {
	env := newTestEnv(t)
	n := env.accepted(t)
	if _, err := env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("200")); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("50"))
	requireCode(t, err, domain.CodeValidationFailed)
	if got := domain.DetailsOf(err)["remaining"]; got != "40" {
		t.Fatalf("remaining detail = %v", got)
	}
	_, err = env.Engine.FundEscrow(env.Ctx, n.ID, seller, dec("40"))
	requireCode(t, err, domain.CodeForbidden)
	_, err = env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("0"))
	requireCode(t, err, domain.CodeValidationFailed)
}

func TestCancelRefundsHeldFunds(t *testing.T) {
	env := newTestEnv(t)
	n := env.accepted(t)
	if _, err := env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("240")); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RefundEscrow(env.Ctx, n.ID, seller); err != nil {
		t.Fatal(err)
	}
	n, err := env.Engine.CancelNegotiation(env.Ctx, n.ID, buyer, "supplier withdrew")
	if err != nil || n.Status != domain.StatusCancelled {
		t.Fatalf("cancel: %v", err)
	}
	if n.Escrow.RefundedAt == nil || len(n.PendingApprovals) != 0 {
		t.Fatalf("expected refunded escrow without approvals: %+v %v", n.Escrow, n.PendingApprovals)
	}
}

func TestRepeatedApprovalChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	n := env.accepted(t)
	if _, err := env.Engine.FundEscrow(env.Ctx, n.ID, buyer, dec("240")); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.ReleaseEscrow(env.Ctx, n.ID, buyer)
	if err != nil {
		t.Fatal(err)
	}
	published := len(env.Published.Events())
	again, err := env.Engine.ReleaseEscrow(env.Ctx, n.ID, buyer)
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != first.Version || again.Status != domain.StatusEscrowFunded {
		t.Fatalf("repeat approval moved negotiation: v%d -> v%d %s", first.Version, again.Version, again.Status)
	}
	if got := len(env.Published.Events()); got != published {
		t.Fatalf("repeat approval published %d extra events", got-published)
	}
	if got := again.PendingApprovals[domain.EscrowActionRelease]; len(got) != 1 {
		t.Fatalf("pending approvals = %v", again.PendingApprovals)
	}

	done, err := env.Engine.ReleaseEscrow(env.Ctx, n.ID, seller)
	if err != nil || done.Status != domain.StatusEscrowReleased {
		t.Fatalf("second party release: %v %s", err, done.Status)
	}
}

func TestAccessResolver(t *testing.T) {
	env := newTestEnv(t)
	n := env.open(t)

	_, err := env.Engine.GetNegotiationWithAccess(env.Ctx, n.ID, outsider)
	requireCode(t, err, domain.CodeForbidden)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	_, err = env.Engine.GetNegotiationWithAccess(env.Ctx, "missing", buyer)
	requireCode(t, err, domain.CodeNotFound)
	if !engine.IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false", err)
	}

	v, err := env.Engine.GetNegotiationWithAccess(env.Ctx, n.ID, admin)
	if err != nil || v.ViewerRole != domain.RoleAdmin {
		t.Fatalf("admin view: %v %s", err, v.ViewerRole)
	}
	// admins may view but not negotiate
	_, err = env.Engine.CounterOffer(env.Ctx, engine.OfferOptions{NegotiationID: n.ID, Price: dec("5"), Quantity: 1, Viewer: admin})
	requireCode(t, err, domain.CodeForbidden)

	_, err = env.Engine.CreateNegotiation(env.Ctx, engine.NegotiationCreateOptions{
		ListingID: "l", BuyerID: buyer.ID, SellerID: seller.ID, Price: dec("1"), Quantity: 1, Viewer: outsider,
	})
	requireCode(t, err, domain.CodeForbidden)
}

func TestParticipantSignedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	n := env.open(t)
	opts := engine.ParticipantSignedOptions{
		NegotiationID: n.ID,
		ContractID:    "env-1",
		ParticipantID: buyer.ID,
		Role:          domain.RoleBuyer,
		Viewer:        auth.System("esign"),
	}
	_, err := env.Engine.ParticipantSigned(env.Ctx, opts)
	requireCode(t, err, domain.CodeInvalidTransition)

	n = env.accepted(t)
	opts.NegotiationID = n.ID
	first, err := env.Engine.ParticipantSigned(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.ParticipantSigned(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Signatures) != 1 || second.Version != first.Version || second.Status != domain.StatusAccepted {
		t.Fatalf("duplicate signature changed state: %+v", second)
	}
}

const revisionV1 = `1. Scope
The seller delivers 40 pallets of sorted PET flakes.

2. Payment
The buyer pays within 30 days of delivery.`

const revisionV2 = `1. Scope
The seller delivers 40 pallets of washed PET flakes.

2. Payment
The buyer pays within 30 days of delivery.`

func TestContractRevisionsAndComments(t *testing.T) {
	env := newTestEnv(t)
	n := env.open(t)

	r1, created, err := env.Engine.AddContractRevision(env.Ctx, engine.RevisionOptions{NegotiationID: n.ID, Body: revisionV1, Viewer: seller})
	if err != nil || !created || r1.Version != 1 {
		t.Fatalf("first revision: %v created=%v %+v", err, created, r1)
	}
	again, created, err := env.Engine.AddContractRevision(env.Ctx, engine.RevisionOptions{NegotiationID: n.ID, Body: revisionV1, Viewer: buyer})
	if err != nil || created || again.ID != r1.ID {
		t.Fatalf("resubmission created a revision: %v %+v", err, again)
	}
	r2, created, err := env.Engine.AddContractRevision(env.Ctx, engine.RevisionOptions{NegotiationID: n.ID, Body: revisionV2, Viewer: buyer})
	if err != nil || !created || r2.Version != 2 {
		t.Fatalf("second revision: %v %+v", err, r2)
	}
	_, _, err = env.Engine.AddContractRevision(env.Ctx, engine.RevisionOptions{NegotiationID: n.ID, Body: "  ", Viewer: buyer})
	requireCode(t, err, domain.CodeValidationFailed)

	revs, err := env.Engine.ListContractRevisions(env.Ctx, n.ID, buyer)
	if err != nil || len(revs) != 2 {
		t.Fatalf("list revisions: %v %d", err, len(revs))
	}

	diff, err := env.Engine.DiffContractRevisions(env.Ctx, n.ID, seller, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff.Summary.Modified != 1 || diff.Summary.Unchanged != 3 || diff.Fingerprint == "" {
		t.Fatalf("unexpected diff %+v", diff.Summary)
	}
	_, err = env.Engine.DiffContractRevisions(env.Ctx, n.ID, seller, 1, 9)
	requireCode(t, err, domain.CodeNotFound)

	c, err := env.Engine.AddRevisionComment(env.Ctx, engine.CommentOptions{
		NegotiationID: n.ID,
		Version:       2,
		Anchor:        domain.CommentAnchor{Clause: 1, Offset: 34, Quote: "washed"},
		Body:          "Washed costs extra.",
		Viewer:        seller,
	})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	_, err = env.Engine.AddRevisionComment(env.Ctx, engine.CommentOptions{
		NegotiationID: n.ID, Version: 2, Anchor: domain.CommentAnchor{Clause: 1, Offset: 0, Quote: "washed"}, Body: "x", Viewer: seller,
	})
	requireCode(t, err, domain.CodeValidationFailed)
	_, err = env.Engine.AddRevisionComment(env.Ctx, engine.CommentOptions{
		NegotiationID: n.ID, Version: 2, Anchor: domain.CommentAnchor{Clause: 4}, Body: "x", Viewer: seller,
	})
	requireCode(t, err, domain.CodeValidationFailed)
	_, err = env.Engine.AddRevisionComment(env.Ctx, engine.CommentOptions{
		NegotiationID: n.ID, Version: 2, Body: "x", Viewer: outsider,
	})
	requireCode(t, err, domain.CodeForbidden)

	resolved, err := env.Engine.SetCommentResolved(env.Ctx, n.ID, c.ID, buyer, true)
	if err != nil || !resolved.Resolved || resolved.ResolvedBy != buyer.ID {
		t.Fatalf("resolve: %v %+v", err, resolved)
	}
	comments, err := env.Engine.ListRevisionComments(env.Ctx, n.ID, 2, buyer)
	if err != nil || len(comments) != 1 || !comments[0].Resolved {
		t.Fatalf("list comments: %v %+v", err, comments)
	}

	other := env.open(t)
	_, err = env.Engine.SetCommentResolved(env.Ctx, other.ID, c.ID, buyer, false)
	requireCode(t, err, domain.CodeNotFound)

	if _, err := env.Engine.CancelNegotiation(env.Ctx, n.ID, buyer, ""); err != nil {
		t.Fatal(err)
	}
	_, _, err = env.Engine.AddContractRevision(env.Ctx, engine.RevisionOptions{NegotiationID: n.ID, Body: revisionV1 + "\n\n3. Extra", Viewer: buyer})
	requireCode(t, err, domain.CodeInvalidTransition)
}
