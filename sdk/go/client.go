package dealdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal dealdesk HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. Servers
	// accept it only with allow_actor_header enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Offer is one priced proposal. Money fields are decimal strings.
type Offer struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	AuthorID  string    `json:"author_id"`
	Price     string    `json:"price"`
	Quantity  int       `json:"quantity"`
	Total     string    `json:"total"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Escrow struct {
	ExpectedAmount string     `json:"expected_amount"`
	FundedAmount   string     `json:"funded_amount"`
	Remaining      string     `json:"remaining"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty"`
}

type Signature struct {
	ContractID    string    `json:"contract_id"`
	Role          string    `json:"role"`
	ParticipantID string    `json:"participant_id"`
	SignedAt      time.Time `json:"signed_at"`
}

// Negotiation represents the API negotiation model.
type Negotiation struct {
	ID               string              `json:"id"`
	ListingID        string              `json:"listing_id"`
	BuyerID          string              `json:"buyer_id"`
	SellerID         string              `json:"seller_id"`
	Status           string              `json:"status"`
	PremiumTier      string              `json:"premium_tier"`
	Currency         string              `json:"currency"`
	Version          int                 `json:"version"`
	Offers           []Offer             `json:"offers"`
	Escrow           *Escrow             `json:"escrow,omitempty"`
	Signatures       []Signature         `json:"signatures"`
	FundedRatio      float64             `json:"funded_ratio"`
	ViewerRole       string              `json:"viewer_role,omitempty"`
	PendingApprovals map[string][]string `json:"pending_approvals,omitempty"`
}

// CreateNegotiation is the request for CreateNegotiation.
type CreateNegotiation struct {
	ListingID   string `json:"listing_id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	PremiumTier string `json:"premium_tier,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Price       string `json:"price"`
	Quantity    int    `json:"quantity"`
	Note        string `json:"note,omitempty"`
}

type Revision struct {
	ID          string    `json:"id"`
	Version     int       `json:"version"`
	Body        string    `json:"body"`
	Summary     string    `json:"summary,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	AuthorID    string    `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	Created     bool      `json:"created"`
}

type DiffSegment struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Base   string `json:"base,omitempty"`
	Target string `json:"target,omitempty"`
}

type RevisionDiff struct {
	Base     int           `json:"base"`
	Target   int           `json:"target"`
	Segments []DiffSegment `json:"segments"`
	Summary  struct {
		Added     int `json:"added"`
		Removed   int `json:"removed"`
		Modified  int `json:"modified"`
		Unchanged int `json:"unchanged"`
	} `json:"summary"`
	Fingerprint string `json:"fingerprint"`
}

type Comment struct {
	ID     string `json:"id"`
	Anchor struct {
		Clause int    `json:"clause"`
		Offset int    `json:"offset"`
		Quote  string `json:"quote,omitempty"`
	} `json:"anchor"`
	AuthorID   string `json:"author_id"`
	Body       string `json:"body"`
	Resolved   bool   `json:"resolved"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

type Job struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval,omitempty"`
	Running   bool       `json:"running"`
	Runs      int        `json:"runs"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the
// {"error","message"} envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string         `json:"error"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateNegotiation(ctx context.Context, in CreateNegotiation) (Negotiation, error) {
	var resp Negotiation
	err := c.do(ctx, http.MethodPost, "negotiations", in, &resp)
	return resp, err
}

func (c *Client) GetNegotiation(ctx context.Context, id string) (Negotiation, error) {
	var resp Negotiation
	err := c.do(ctx, http.MethodGet, negotiationPath(id, ""), nil, &resp)
	return resp, err
}

// CounterOffer proposes new terms on behalf of the caller.
func (c *Client) CounterOffer(ctx context.Context, id, price string, quantity int, note string) (Negotiation, error) {
	body := map[string]any{"price": price, "quantity": quantity, "note": note}
	var resp Negotiation
	err := c.do(ctx, http.MethodPost, negotiationPath(id, "offers"), body, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, id string) (Negotiation, error) {
	return c.action(ctx, id, "accept", nil)
}

func (c *Client) Complete(ctx context.Context, id string) (Negotiation, error) {
	return c.action(ctx, id, "complete", nil)
}

func (c *Client) Cancel(ctx context.Context, id, reason string) (Negotiation, error) {
	return c.action(ctx, id, "cancel", map[string]any{"reason": reason})
}

func (c *Client) FundEscrow(ctx context.Context, id, amount string) (Negotiation, error) {
	return c.action(ctx, id, "escrow/fund", map[string]any{"amount": amount})
}

// ReleaseEscrow records the caller's release approval. Funds move once both
// parties have approved.
func (c *Client) ReleaseEscrow(ctx context.Context, id string) (Negotiation, error) {
	return c.action(ctx, id, "escrow/release", nil)
}

func (c *Client) RefundEscrow(ctx context.Context, id string) (Negotiation, error) {
	return c.action(ctx, id, "escrow/refund", nil)
}

func (c *Client) action(ctx context.Context, id, action string, body any) (Negotiation, error) {
	var resp Negotiation
	err := c.do(ctx, http.MethodPost, negotiationPath(id, action), body, &resp)
	return resp, err
}

func (c *Client) ListRevisions(ctx context.Context, id string) ([]Revision, error) {
	var resp []Revision
	err := c.do(ctx, http.MethodGet, negotiationPath(id, "revisions"), nil, &resp)
	return resp, err
}

// AddRevision submits contract text. Created is false when body matches the
// latest revision.
func (c *Client) AddRevision(ctx context.Context, id, body, summary string) (Revision, error) {
	var resp Revision
	err := c.do(ctx, http.MethodPost, negotiationPath(id, "revisions"), map[string]any{"body": body, "summary": summary}, &resp)
	return resp, err
}

func (c *Client) DiffRevisions(ctx context.Context, id string, base, target int) (RevisionDiff, error) {
	q := url.Values{}
	q.Set("base", fmt.Sprint(base))
	q.Set("target", fmt.Sprint(target))
	var resp RevisionDiff
	err := c.do(ctx, http.MethodGet, negotiationPath(id, "revisions/diff")+"?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) AddComment(ctx context.Context, id string, version, clause, offset int, quote, body string) (Comment, error) {
	req := map[string]any{"clause": clause, "offset": offset, "quote": quote, "body": body}
	var resp Comment
	err := c.do(ctx, http.MethodPost, negotiationPath(id, fmt.Sprintf("revisions/%d/comments", version)), req, &resp)
	return resp, err
}

func (c *Client) ListComments(ctx context.Context, id string, version int) ([]Comment, error) {
	var resp []Comment
	err := c.do(ctx, http.MethodGet, negotiationPath(id, fmt.Sprintf("revisions/%d/comments", version)), nil, &resp)
	return resp, err
}

func (c *Client) ResolveComment(ctx context.Context, id, commentID string, resolved bool) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPatch, negotiationPath(id, "comments/"+url.PathEscape(commentID)), map[string]any{"resolved": resolved}, &resp)
	return resp, err
}

func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var resp []Job
	err := c.do(ctx, http.MethodGet, "admin/jobs", nil, &resp)
	return resp, err
}

func (c *Client) TriggerJob(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "admin/jobs/"+url.PathEscape(name)+"/trigger", nil, nil)
}

// PremiumMetrics returns the report as raw JSON; stored selects the last
// snapshot instead of a live computation.
func (c *Client) PremiumMetrics(ctx context.Context, stored bool) (map[string]any, error) {
	endpoint := "admin/metrics/premium"
	if stored {
		endpoint += "?stored=true"
	}
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		_ = json.Unmarshal(b, apiErr)
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func negotiationPath(id, suffix string) string {
	p := "negotiations/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	bp := strings.Trim(c.BasePath, "/")
	if bp == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + bp
}
