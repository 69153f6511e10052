package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"dealdesk/internal/contract"
	"dealdesk/internal/domain"
	"dealdesk/internal/engine/auth"
	"dealdesk/internal/events"
	"dealdesk/internal/repo"
)

const (
	EventContractRevised  = "CONTRACT_REVISED"
	EventCommentAdded     = "COMMENT_ADDED"
	EventCommentResolved  = "COMMENT_RESOLVED"
	EventCommentReopened  = "COMMENT_REOPENED"
	maxCommentLength      = 4000
	maxContractBodyLength = 1 << 20
)

type RevisionOptions struct {
	NegotiationID string
	Body          string
	Summary       string
	Viewer        auth.Viewer
}

// AddContractRevision stores a new contract version. Resubmitting the content
// of the latest version returns it unchanged with created=false.
func (e Engine) AddContractRevision(ctx context.Context, opts RevisionOptions) (domain.ContractRevision, bool, error) {
	if strings.TrimSpace(opts.Body) == "" {
		return domain.ContractRevision{}, false, domain.Errorf(domain.CodeValidationFailed, "contract body is required")
	}
	if len(opts.Body) > maxContractBodyLength {
		return domain.ContractRevision{}, false, domain.Errorf(domain.CodeValidationFailed, "contract body exceeds %d bytes", maxContractBodyLength)
	}
	fp := contract.ComputeNegotiationContractFingerprint(opts.Body, opts.Summary)

	var (
		rev     domain.ContractRevision
		created bool
	)
	_, err := e.mutate(ctx, opts.NegotiationID, opts.Viewer, func(tx *sql.Tx, n *domain.Negotiation) (mutation, error) {
		if err := auth.RequirePartyOrAdmin(opts.Viewer, *n, "revise"); err != nil {
			return mutation{}, err
		}
		if n.Status.Terminal() {
			return mutation{}, domain.Errorf(domain.CodeInvalidTransition, "contract of a %s negotiation cannot be revised", n.Status)
		}
		latest, err := e.Repo.LatestRevisionTx(ctx, tx, n.ID)
		switch {
		case err == nil && latest.Fingerprint == fp:
			rev = latest
			return mutation{Skip: true}, nil
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return mutation{}, err
		}
		rev = domain.ContractRevision{
			ID:            e.newID(),
			NegotiationID: n.ID,
			Version:       latest.Version + 1,
			Body:          opts.Body,
			Summary:       opts.Summary,
			Fingerprint:   fp,
			AuthorID:      opts.Viewer.ID,
			CreatedAt:     e.now(),
		}
		if err := e.Repo.InsertRevision(ctx, tx, rev); err != nil {
			return mutation{}, err
		}
		created = true
		payload := events.EventPayload{"revision_id": rev.ID, "revision": rev.Version, "fingerprint": fp}
		if latest.Version > 0 {
			sum := contract.SummarizeClauseDiff(contract.ComputeClauseDiff(latest.Body, rev.Body))
			payload["diff"] = sum
		}
		return mutation{EventType: EventContractRevised, Payload: payload}, nil
	})
	if err != nil {
		return domain.ContractRevision{}, false, err
	}
	return rev, created, nil
}

func (e Engine) ListContractRevisions(ctx context.Context, negotiationID string, viewer auth.Viewer) ([]domain.ContractRevision, error) {
	if _, err := e.GetNegotiationWithAccess(ctx, negotiationID, viewer); err != nil {
		return nil, err
	}
	revs, err := e.Repo.ListRevisions(ctx, negotiationID)
	if err != nil {
		return nil, e.translate(err, negotiationID)
	}
	return revs, nil
}

// RevisionDiff compares two stored versions of a negotiation's contract.
type RevisionDiff struct {
	Base        int                `json:"base"`
	Target      int                `json:"target"`
	Segments    []contract.Segment `json:"segments"`
	Summary     contract.Summary   `json:"summary"`
	Fingerprint string             `json:"fingerprint"`
}

func (e Engine) DiffContractRevisions(ctx context.Context, negotiationID string, viewer auth.Viewer, base, target int) (RevisionDiff, error) {
	if base < 1 || target < 1 {
		return RevisionDiff{}, domain.Errorf(domain.CodeValidationFailed, "base and target must be revision numbers starting at 1")
	}
	if _, err := e.GetNegotiationWithAccess(ctx, negotiationID, viewer); err != nil {
		return RevisionDiff{}, err
	}
	b, err := e.revision(ctx, negotiationID, base)
	if err != nil {
		return RevisionDiff{}, err
	}
	t, err := e.revision(ctx, negotiationID, target)
	if err != nil {
		return RevisionDiff{}, err
	}
	segs := contract.ComputeClauseDiff(b.Body, t.Body)
	return RevisionDiff{
		Base:        base,
		Target:      target,
		Segments:    segs,
		Summary:     contract.SummarizeClauseDiff(segs),
		Fingerprint: contract.BuildDiffFingerprint(segs),
	}, nil
}

func (e Engine) revision(ctx context.Context, negotiationID string, version int) (domain.ContractRevision, error) {
	rev, err := e.Repo.GetRevisionByVersion(ctx, negotiationID, version)
	if errors.Is(err, repo.ErrNotFound) {
		return rev, domain.Errorf(domain.CodeNotFound, "revision %d of negotiation %s not found", version, negotiationID)
	}
	if err != nil {
		return rev, e.translate(err, negotiationID)
	}
	return rev, nil
}

type CommentOptions struct {
	NegotiationID string
	Version       int
	Anchor        domain.CommentAnchor
	Body          string
	Viewer        auth.Viewer
}

// AddRevisionComment anchors a comment to a clause unit of a revision.
func (e Engine) AddRevisionComment(ctx context.Context, opts CommentOptions) (domain.RevisionComment, error) {
	body := strings.TrimSpace(opts.Body)
	switch {
	case body == "":
		return domain.RevisionComment{}, domain.Errorf(domain.CodeValidationFailed, "comment body is required")
	case utf8.RuneCountInString(body) > maxCommentLength:
		return domain.RevisionComment{}, domain.Errorf(domain.CodeValidationFailed, "comment body exceeds %d characters", maxCommentLength)
	case opts.Anchor.Clause < 0 || opts.Anchor.Offset < 0:
		return domain.RevisionComment{}, domain.Errorf(domain.CodeValidationFailed, "anchor clause and offset must not be negative")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RevisionComment{}, e.internal(err, opts.NegotiationID, "begin transaction")
	}
	defer tx.Rollback()
	if _, err := e.loadWithAccessTx(ctx, tx, opts.NegotiationID, opts.Viewer); err != nil {
		return domain.RevisionComment{}, err
	}
	rev, err := e.Repo.GetRevisionByVersionTx(ctx, tx, opts.NegotiationID, opts.Version)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.RevisionComment{}, domain.Errorf(domain.CodeNotFound, "revision %d of negotiation %s not found", opts.Version, opts.NegotiationID)
	}
	if err != nil {
		return domain.RevisionComment{}, e.translate(err, opts.NegotiationID)
	}
	if err := checkAnchor(rev.Body, opts.Anchor); err != nil {
		return domain.RevisionComment{}, err
	}
	now := e.now()
	c := domain.RevisionComment{
		ID:         e.newID(),
		RevisionID: rev.ID,
		AuthorID:   opts.Viewer.ID,
		Anchor:     opts.Anchor,
		Body:       body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.RevisionComment{}, e.internal(err, opts.NegotiationID, "insert comment")
	}
	if err := e.Events.Append(ctx, tx, EventCommentAdded, opts.NegotiationID, opts.Viewer.ID, events.EventPayload{
		"comment_id": c.ID, "revision": rev.Version, "clause": c.Anchor.Clause,
	}); err != nil {
		return domain.RevisionComment{}, e.internal(err, opts.NegotiationID, "append audit event")
	}
	if err := tx.Commit(); err != nil {
		return domain.RevisionComment{}, e.internal(err, opts.NegotiationID, "commit")
	}
	return c, nil
}

// checkAnchor requires the anchor to point inside an existing clause unit and,
// when a quote is given, the quote to appear at that offset.
func checkAnchor(body string, a domain.CommentAnchor) error {
	units := contract.SplitClauses(body)
	if a.Clause >= len(units) {
		return domain.Errorf(domain.CodeValidationFailed, "anchor clause %d out of range (%d units)", a.Clause, len(units))
	}
	text := units[a.Clause].Text
	if a.Offset > len(text) {
		return domain.Errorf(domain.CodeValidationFailed, "anchor offset %d beyond clause length %d", a.Offset, len(text))
	}
	if a.Quote != "" && !strings.HasPrefix(text[a.Offset:], a.Quote) {
		return domain.Errorf(domain.CodeValidationFailed, "anchor quote not found at offset %d", a.Offset)
	}
	return nil
}

func (e Engine) ListRevisionComments(ctx context.Context, negotiationID string, version int, viewer auth.Viewer) ([]domain.RevisionComment, error) {
	if _, err := e.GetNegotiationWithAccess(ctx, negotiationID, viewer); err != nil {
		return nil, err
	}
	rev, err := e.revision(ctx, negotiationID, version)
	if err != nil {
		return nil, err
	}
	comments, err := e.Repo.ListComments(ctx, rev.ID)
	if err != nil {
		return nil, e.translate(err, negotiationID)
	}
	return comments, nil
}

// SetCommentResolved flips a comment's resolved flag. Only the negotiation's
// parties and admins may do this.
func (e Engine) SetCommentResolved(ctx context.Context, negotiationID, commentID string, viewer auth.Viewer, resolved bool) (domain.RevisionComment, error) {
	if commentID == "" {
		return domain.RevisionComment{}, domain.Errorf(domain.CodeValidationFailed, "comment id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RevisionComment{}, e.internal(err, negotiationID, "begin transaction")
	}
	defer tx.Rollback()
	if _, err := e.loadWithAccessTx(ctx, tx, negotiationID, viewer); err != nil {
		return domain.RevisionComment{}, err
	}
	found, err := e.Repo.GetCommentTx(ctx, tx, commentID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && found.NegotiationID != negotiationID) {
		return domain.RevisionComment{}, domain.Errorf(domain.CodeNotFound, "comment %s not found", commentID)
	}
	if err != nil {
		return domain.RevisionComment{}, e.translate(err, negotiationID)
	}
	c := found.Comment
	if c.Resolved == resolved {
		return c, nil
	}
	now := e.now()
	if err := e.Repo.SetCommentResolved(ctx, tx, commentID, resolved, viewer.ID, now); err != nil {
		return domain.RevisionComment{}, e.translate(err, negotiationID)
	}
	evtType := EventCommentResolved
	c.Resolved, c.ResolvedBy, c.UpdatedAt = resolved, viewer.ID, now
	if !resolved {
		evtType = EventCommentReopened
		c.ResolvedBy = ""
	}
	if err := e.Events.Append(ctx, tx, evtType, negotiationID, viewer.ID, events.EventPayload{"comment_id": commentID}); err != nil {
		return domain.RevisionComment{}, e.internal(err, negotiationID, "append audit event")
	}
	if err := tx.Commit(); err != nil {
		return domain.RevisionComment{}, e.internal(err, negotiationID, "commit")
	}
	return c, nil
}
