package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dealdesk/internal/domain"
)

const revisionColumns = `id,negotiation_id,version,body,summary,fingerprint,author_id,created_at`

func (r Repo) InsertRevision(ctx context.Context, tx *sql.Tx, rev domain.ContractRevision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contract_revisions(`+revisionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		rev.ID, rev.NegotiationID, rev.Version, rev.Body, nullable(rev.Summary), rev.Fingerprint, rev.AuthorID, formatTime(rev.CreatedAt))
	return err
}

func scanRevision(sc interface{ Scan(...any) error }) (domain.ContractRevision, error) {
	var rev domain.ContractRevision
	var summary sql.NullString
	var created string
	if err := sc.Scan(&rev.ID, &rev.NegotiationID, &rev.Version, &rev.Body, &summary, &rev.Fingerprint, &rev.AuthorID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rev, ErrNotFound
		}
		return rev, err
	}
	rev.Summary = summary.String
	var err error
	rev.CreatedAt, err = parseTime(created)
	return rev, err
}

// LatestRevisionTx returns the highest version, ErrNotFound when there is none.
func (r Repo) LatestRevisionTx(ctx context.Context, tx *sql.Tx, negotiationID string) (domain.ContractRevision, error) {
	return scanRevision(tx.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM contract_revisions WHERE negotiation_id=? ORDER BY version DESC LIMIT 1`, negotiationID))
}

func (r Repo) GetRevisionByVersion(ctx context.Context, negotiationID string, version int) (domain.ContractRevision, error) {
	return scanRevision(r.DB.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM contract_revisions WHERE negotiation_id=? AND version=?`, negotiationID, version))
}

func (r Repo) GetRevisionByVersionTx(ctx context.Context, tx *sql.Tx, negotiationID string, version int) (domain.ContractRevision, error) {
	return scanRevision(tx.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM contract_revisions WHERE negotiation_id=? AND version=?`, negotiationID, version))
}

func (r Repo) ListRevisions(ctx context.Context, negotiationID string) ([]domain.ContractRevision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+revisionColumns+` FROM contract_revisions WHERE negotiation_id=? ORDER BY version`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ContractRevision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

const commentColumns = `id,revision_id,author_id,anchor_clause,anchor_offset,anchor_quote,body,resolved,resolved_by,created_at,updated_at`

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.RevisionComment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO revision_comments(`+commentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.RevisionID, c.AuthorID, c.Anchor.Clause, c.Anchor.Offset, nullable(c.Anchor.Quote), c.Body,
		boolInt(c.Resolved), nullable(c.ResolvedBy), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return err
}

func scanComment(sc interface{ Scan(...any) error }) (domain.RevisionComment, error) {
	var c domain.RevisionComment
	var quote, resolvedBy sql.NullString
	var resolved int
	var created, updated string
	if err := sc.Scan(&c.ID, &c.RevisionID, &c.AuthorID, &c.Anchor.Clause, &c.Anchor.Offset, &quote, &c.Body, &resolved, &resolvedBy, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, ErrNotFound
		}
		return c, err
	}
	c.Anchor.Quote = quote.String
	c.Resolved = resolved != 0
	c.ResolvedBy = resolvedBy.String
	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return c, err
	}
	c.UpdatedAt, err = parseTime(updated)
	return c, err
}

// CommentWithNegotiation pairs a comment with the negotiation owning its revision.
type CommentWithNegotiation struct {
	Comment       domain.RevisionComment
	NegotiationID string
}

func (r Repo) GetCommentTx(ctx context.Context, tx *sql.Tx, id string) (CommentWithNegotiation, error) {
	var out CommentWithNegotiation
	row := tx.QueryRowContext(ctx, `SELECT r.negotiation_id FROM revision_comments c JOIN contract_revisions r ON r.id=c.revision_id WHERE c.id=?`, id)
	if err := row.Scan(&out.NegotiationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, ErrNotFound
		}
		return out, err
	}
	c, err := scanComment(tx.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM revision_comments WHERE id=?`, id))
	out.Comment = c
	return out, err
}

func (r Repo) SetCommentResolved(ctx context.Context, tx *sql.Tx, id string, resolved bool, by string, at time.Time) error {
	if !resolved {
		by = ""
	}
	return execOne(ctx, tx, `UPDATE revision_comments SET resolved=?, resolved_by=?, updated_at=? WHERE id=?`, boolInt(resolved), nullable(by), formatTime(at), id)
}

func (r Repo) ListComments(ctx context.Context, revisionID string) ([]domain.RevisionComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM revision_comments WHERE revision_id=? ORDER BY created_at, id`, revisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RevisionComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
