package client

import (
	"context"

	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
)

type Client interface {
	Close() error
	Ping(ctx context.Context) error
	// PushProgress uploads one record. Retrying with the same key is safe.
	PushProgress(ctx context.Context, rec models.ProgressRecord, idempotencyKey string) (accepted bool, err error)
	FetchCourses(ctx context.Context, tenantID string) ([]models.CourseSummary, error)
	FetchAgenda(ctx context.Context, userID, tenantID string) ([]models.AgendaItem, error)
}
