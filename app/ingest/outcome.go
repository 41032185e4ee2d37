package ingest

import (
	"context"
	"errors"

	"github.com/lysyi3m/mp-comb/app/accounts"
	"github.com/lysyi3m/mp-comb/app/extractor"
)

// OutcomeFor derives the credential health signal from an extraction
// result. Parse failures say nothing bad about the credential.
func OutcomeFor(ctx context.Context, err error) accounts.Outcome {
	switch {
	case err == nil:
		return accounts.OutcomeSuccess
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return accounts.OutcomeCancelled
	case errors.Is(err, extractor.ErrAuthRejected):
		return accounts.OutcomeAuthFailure
	case errors.Is(err, extractor.ErrRateLimited),
		extractor.IsReason(err, extractor.ReasonTimeout),
		extractor.IsReason(err, extractor.ReasonNavigation):
		return accounts.OutcomeRateLimited
	default:
		return accounts.OutcomeSuccess
	}
}
