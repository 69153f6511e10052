package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"dealdesk/internal/domain"
	"dealdesk/internal/engine"
)

type negotiationPath struct {
	NegotiationID string `path:"negotiation_id"`
}

type negotiationOutput struct {
	Body NegotiationResponse `json:"body"`
}

func negotiationResult(v engine.NegotiationView, err error) (*negotiationOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &negotiationOutput{Body: mapNegotiation(v)}, nil
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerNegotiations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-negotiation",
		Method:        http.MethodPost,
		Path:          "/negotiations",
		Summary:       "Open a negotiation with an initial offer",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateNegotiationRequest `json:"body"`
	}) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, domain.CodeValidationFailed, "body required", nil)
		}
		price, err := parseMoney("price", input.Body.Price)
		if err != nil {
			return nil, handleError(err)
		}
		return negotiationResult(e.CreateNegotiation(ctx, engine.NegotiationCreateOptions{
			ID:          input.Body.ID,
			ListingID:   input.Body.ListingID,
			BuyerID:     input.Body.BuyerID,
			SellerID:    input.Body.SellerID,
			PremiumTier: input.Body.PremiumTier,
			Currency:    input.Body.Currency,
			Price:       price,
			Quantity:    input.Body.Quantity,
			Note:        input.Body.Note,
			Viewer:      viewer,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-negotiation",
		Method:      http.MethodGet,
		Path:        "/negotiations/{negotiation_id}",
		Summary:     "Get negotiation",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *negotiationPath) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		return negotiationResult(e.GetNegotiationWithAccess(ctx, input.NegotiationID, viewer))
	})

	huma.Register(api, huma.Operation{
		OperationID: "counter-offer",
		Method:      http.MethodPost,
		Path:        "/negotiations/{negotiation_id}/offers",
		Summary:     "Counter the latest offer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		NegotiationID string       `path:"negotiation_id"`
		Body          OfferRequest `json:"body"`
	}) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		price, err := parseMoney("price", input.Body.Price)
		if err != nil {
			return nil, handleError(err)
		}
		return negotiationResult(e.CounterOffer(ctx, engine.OfferOptions{
			NegotiationID: input.NegotiationID,
			Price:         price,
			Quantity:      input.Body.Quantity,
			Note:          input.Body.Note,
			Viewer:        viewer,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-offer",
		Method:      http.MethodPost,
		Path:        "/negotiations/{negotiation_id}/accept",
		Summary:     "Accept the latest offer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *negotiationPath) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		return negotiationResult(e.AcceptOffer(ctx, input.NegotiationID, viewer))
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-negotiation",
		Method:      http.MethodPost,
		Path:        "/negotiations/{negotiation_id}/complete",
		Summary:     "Complete an accepted negotiation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *negotiationPath) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		return negotiationResult(e.CompleteNegotiation(ctx, input.NegotiationID, viewer))
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-negotiation",
		Method:      http.MethodPost,
		Path:        "/negotiations/{negotiation_id}/cancel",
		Summary:     "Cancel a negotiation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		NegotiationID string         `path:"negotiation_id"`
		Body          *CancelRequest `json:"body,omitempty" required:"false"`
	}) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		return negotiationResult(e.CancelNegotiation(ctx, input.NegotiationID, viewer, reason))
	})
}

func registerEscrow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "fund-escrow",
		Method:      http.MethodPost,
		Path:        "/negotiations/{negotiation_id}/escrow/fund",
		Summary:     "Deposit buyer funds into escrow",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		NegotiationID string            `path:"negotiation_id"`
		Body          FundEscrowRequest `json:"body"`
	}) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		amount, err := parseMoney("amount", input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return negotiationResult(e.FundEscrow(ctx, input.NegotiationID, viewer, amount))
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-escrow",
		Method:      http.MethodPost,
		Path:        "/negotiations/{negotiation_id}/escrow/release",
		Summary:     "Approve releasing escrow to the seller",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *negotiationPath) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		return negotiationResult(e.ReleaseEscrow(ctx, input.NegotiationID, viewer))
	})

	huma.Register(api, huma.Operation{
		OperationID: "refund-escrow",
		Method:      http.MethodPost,
		Path:        "/negotiations/{negotiation_id}/escrow/refund",
		Summary:     "Approve refunding escrow to the buyer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *negotiationPath) (*negotiationOutput, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		return negotiationResult(e.RefundEscrow(ctx, input.NegotiationID, viewer))
	})
}

func registerRevisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-revisions",
		Method:      http.MethodGet,
		Path:        "/negotiations/{negotiation_id}/revisions",
		Summary:     "List contract revisions",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *negotiationPath) (*struct {
		Body []domain.ContractRevision `json:"body"`
	}, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		revs, err := e.ListContractRevisions(ctx, input.NegotiationID, viewer)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ContractRevision `json:"body"`
		}{Body: nonNilSlice(revs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-revision",
		Method:        http.MethodPost,
		Path:          "/negotiations/{negotiation_id}/revisions",
		Summary:       "Submit a contract revision",
		Description:   "Resubmitting the latest text returns the existing revision with status 200.",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		NegotiationID string          `path:"negotiation_id"`
		Body          RevisionRequest `json:"body"`
	}) (*struct {
		Status int
		Body   RevisionResponse `json:"body"`
	}, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		rev, created, err := e.AddContractRevision(ctx, engine.RevisionOptions{
			NegotiationID: input.NegotiationID,
			Body:          input.Body.Body,
			Summary:       input.Body.Summary,
			Viewer:        viewer,
		})
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   RevisionResponse `json:"body"`
		}{Status: status, Body: RevisionResponse{ContractRevision: rev, Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "diff-revisions",
		Method:      http.MethodGet,
		Path:        "/negotiations/{negotiation_id}/revisions/diff",
		Summary:     "Clause diff between two revisions",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NegotiationID string `path:"negotiation_id"`
		Base          int    `query:"base" required:"true" minimum:"1"`
		Target        int    `query:"target" required:"true" minimum:"1"`
	}) (*struct {
		Body engine.RevisionDiff `json:"body"`
	}, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		d, err := e.DiffContractRevisions(ctx, input.NegotiationID, viewer, input.Base, input.Target)
		if err != nil {
			return nil, handleError(err)
		}
		d.Segments = nonNilSlice(d.Segments)
		return &struct {
			Body engine.RevisionDiff `json:"body"`
		}{Body: d}, nil
	})

	type revisionPath struct {
		NegotiationID string `path:"negotiation_id"`
		Version       int    `path:"version" minimum:"1"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/negotiations/{negotiation_id}/revisions/{version}/comments",
		Summary:     "List comments on a revision",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *revisionPath) (*struct {
		Body []domain.RevisionComment `json:"body"`
	}, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		items, err := e.ListRevisionComments(ctx, input.NegotiationID, input.Version, viewer)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RevisionComment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/negotiations/{negotiation_id}/revisions/{version}/comments",
		Summary:       "Comment on a clause of a revision",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		NegotiationID string         `path:"negotiation_id"`
		Version       int            `path:"version" minimum:"1"`
		Body          CommentRequest `json:"body"`
	}) (*struct {
		Body domain.RevisionComment `json:"body"`
	}, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		c, err := e.AddRevisionComment(ctx, engine.CommentOptions{
			NegotiationID: input.NegotiationID,
			Version:       input.Version,
			Anchor: domain.CommentAnchor{
				Clause: input.Body.Clause,
				Offset: input.Body.Offset,
				Quote:  input.Body.Quote,
			},
			Body:   input.Body.Body,
			Viewer: viewer,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RevisionComment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-comment",
		Method:      http.MethodPatch,
		Path:        "/negotiations/{negotiation_id}/comments/{comment_id}",
		Summary:     "Resolve or reopen a comment",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		NegotiationID string               `path:"negotiation_id"`
		CommentID     string               `path:"comment_id"`
		Body          UpdateCommentRequest `json:"body"`
	}) (*struct {
		Body domain.RevisionComment `json:"body"`
	}, error) {
		viewer, serr := viewerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		c, err := e.SetCommentResolved(ctx, input.NegotiationID, input.CommentID, viewer, input.Body.Resolved)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RevisionComment `json:"body"`
		}{Body: c}, nil
	})
}
