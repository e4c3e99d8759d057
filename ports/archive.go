package ports

import (
	"context"

	"thetaauto/domain/core"
	"thetaauto/domain/result"
)

// SummaryArchive persists result summaries across analysis runs
type SummaryArchive interface {
	Save(ctx context.Context, summary *result.Summary) error
	Get(ctx context.Context, id core.RunID) (*result.Summary, error)
	ListByMethod(ctx context.Context, method string, limit int) ([]result.Summary, error)
}
