package scylla

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shadowlog/internal/models"
)

type AttackEventRepository struct {
	client *ScyllaClient
	logger *zap.Logger
}

func NewAttackEventRepository(client *ScyllaClient, logger *zap.Logger) *AttackEventRepository {
	return &AttackEventRepository{
		client: client,
		logger: logger,
	}
}

// Insert writes one event into its (bucket, date) partition.
func (r *AttackEventRepository) Insert(ctx context.Context, ev *models.AttackEvent) error {
	query := r.client.Query(ctx, stmtInsertAttackEvent,
		ev.EventBucket, ev.EventDate, ev.EventTime, ev.EventID, ev.IPAddress, ev.SourceAddress,
		ev.Username, ev.Password, ev.PasswordEncrypted, ev.EncryptedPassword, ev.PasswordDEK,
		ev.PasswordKeyID, ev.Region, ev.ThreatLevel)

	if err := r.client.ExecuteWithRetry(ctx, query, 2); err != nil {
		return fmt.Errorf("failed to insert attack event %s: %w", ev.EventID, err)
	}

	r.logger.Debug("Attack event stored in ScyllaDB",
		zap.String("event_id", ev.EventID),
		zap.Int("event_bucket", ev.EventBucket),
		zap.String("event_date", ev.EventDate))
	return nil
}
