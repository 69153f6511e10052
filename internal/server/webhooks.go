package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"dealdesk/internal/esign"
)

// registerWebhooks exposes the e-sign provider callback. It is exempt from
// bearer auth; the body must carry a valid X-Signature HMAC when a secret is
// configured. The raw body reaches esign.Handler unvalidated since the HMAC
// covers the exact bytes and Handler.Parse owns payload validation.
func registerWebhooks(api huma.API, h *esign.Handler) {
	huma.Register(api, huma.Operation{
		OperationID:      "esign-webhook",
		Method:           http.MethodPost,
		Path:             "/webhooks/esign",
		Summary:          "E-signature provider callback",
		Description:      "Redeliveries of the same outcome are acknowledged with duplicate=true and change nothing.",
		Errors:           []int{http.StatusBadRequest, http.StatusInternalServerError},
		SkipValidateBody: true,
	}, func(ctx context.Context, input *struct {
		Signature string `header:"X-Signature"`
		RawBody   []byte `contentType:"application/json"`
	}) (*struct {
		Body esign.Result `json:"body"`
	}, error) {
		if h == nil {
			return nil, newAPIError(http.StatusNotFound, "", "e-sign webhook not configured", nil)
		}
		raw := input.RawBody
		if len(raw) == 0 {
			raw = bodyBytes(ctx)
		}
		res, err := h.Handle(ctx, raw, input.Signature)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body esign.Result `json:"body"`
		}{Body: res}, nil
	})
}
