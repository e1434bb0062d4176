package meter

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
)

type Store interface {
	IngestBatch(ctx context.Context, events []*UsageEvent) error
	Aggregate(ctx context.Context, licenseID id.LicenseID, kind Kind, since time.Time) (int64, error)
	QueryUsage(ctx context.Context, licenseID id.LicenseID, opts QueryOpts) ([]*UsageEvent, error)
	PurgeUsage(ctx context.Context, before time.Time) (int64, error)
}

type QueryOpts struct {
	Kind   Kind
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}
