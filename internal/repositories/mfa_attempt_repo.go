package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/google/uuid"
)

type mfaAttemptRepo struct {
	q database.DBTX
}

func (r *mfaAttemptRepo) Record(ctx context.Context, attempt *models.MFAAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	var challengeID *string
	if attempt.ChallengeID != "" {
		challengeID = &attempt.ChallengeID
	}

	query := `
		INSERT INTO mfa_attempts
			(id, user_id, challenge_id, method, success, failure_reason, ip_address, user_agent, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.Exec(ctx, query,
		attempt.ID,
		attempt.UserID,
		challengeID,
		attempt.Method,
		attempt.Success,
		attempt.FailureReason,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record MFA attempt: %w", database.MapPostgresError(err))
	}
	return nil
}

// CountFailuresSince returns wrong MFA answers by a user at or after since
func (r *mfaAttemptRepo) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM mfa_attempts
		WHERE user_id = $1 AND success = false AND attempted_at >= $2
	`

	var count int
	if err := r.q.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count MFA failures: %w", err)
	}
	return count, nil
}
