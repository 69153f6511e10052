package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"dealdesk/internal/metrics"
	"dealdesk/internal/scheduler"
)

func registerAdmin(api huma.API, s *scheduler.Scheduler, m metrics.Service) {
	adminErrors := []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError}

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/admin/jobs",
		Summary:     "List background jobs",
		Errors:      adminErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []scheduler.Status `json:"body"`
	}, error) {
		if _, serr := requireAdmin(ctx); serr != nil {
			return nil, serr
		}
		if s == nil {
			return &struct {
				Body []scheduler.Status `json:"body"`
			}{Body: []scheduler.Status{}}, nil
		}
		jobs, err := s.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []scheduler.Status `json:"body"`
		}{Body: nonNilSlice(jobs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trigger-job",
		Method:      http.MethodPost,
		Path:        "/admin/jobs/{name}/trigger",
		Summary:     "Run a job now",
		Description: "Blocks until the run finishes. Fails with CONFLICT while the job is already running.",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		if _, serr := requireAdmin(ctx); serr != nil {
			return nil, serr
		}
		if s == nil {
			return nil, newAPIError(http.StatusNotFound, "", "scheduler not configured", nil)
		}
		if err := s.Trigger(ctx, input.Name); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "premium-metrics",
		Method:      http.MethodGet,
		Path:        "/admin/metrics/premium",
		Summary:     "Premium conversion forecast",
		Description: "Computes the report live unless stored=true, which returns the last snapshot written by the premium-metrics job.",
		Errors:      adminErrors,
	}, func(ctx context.Context, input *struct {
		Stored bool `query:"stored"`
	}) (*struct {
		Body metrics.PremiumReport `json:"body"`
	}, error) {
		if _, serr := requireAdmin(ctx); serr != nil {
			return nil, serr
		}
		var (
			report metrics.PremiumReport
			err    error
		)
		if input.Stored {
			report, err = m.LatestPremium(ctx)
		} else {
			report, err = m.CurrentPremium(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body metrics.PremiumReport `json:"body"`
		}{Body: report}, nil
	})
}
