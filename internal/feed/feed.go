package feed

import (
	"context"

	"episoded/internal/domain"
)

// Source yields episode candidates once per scheduling tick. Implementations
// own fetching and format concerns; consumers only ever see candidates, so the
// gate stays independent of any particular feed format.
type Source interface {
	Fetch(ctx context.Context) ([]domain.Candidate, error)
}
