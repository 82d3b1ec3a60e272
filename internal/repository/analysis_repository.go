package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leafguard/internal/logging"
)

// AnalysisLog is one analyzed item of one batch.
type AnalysisLog struct {
	ID         uint      `gorm:"primaryKey"`
	BatchID    string    `gorm:"column:batch_id;index;size:64"`
	SessionID  string    `gorm:"column:session_id;index;size:64"`
	Position   int       `gorm:"column:position"`
	ItemName   string    `gorm:"column:item_name;size:255"`
	SHA1Hash   string    `gorm:"column:sha1_hash;size:40;index"`
	Label      string    `gorm:"column:label;size:16"`
	Score      float64   `gorm:"column:score"`
	Confidence float64   `gorm:"column:confidence"`
	Failed     bool      `gorm:"column:failed"`
	ErrorKind  string    `gorm:"column:error_kind;size:32"`
	Message    string    `gorm:"column:message;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// Aggregation summarizes every logged item.
type Aggregation struct {
	BatchCount        int64   `gorm:"column:batch_count"`
	TotalCount        int64   `gorm:"column:total_count"`
	HealthyCount      int64   `gorm:"column:healthy_count"`
	DiseasedCount     int64   `gorm:"column:diseased_count"`
	FailedCount       int64   `gorm:"column:failed_count"`
	AverageConfidence float64 `gorm:"column:average_confidence"`
}

// AnalysisRepository persists analysis logs.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
	})
}

// SaveBatch writes all entries of one batch in a single transaction.
func (r *AnalysisRepository) SaveBatch(ctx context.Context, sessionID string, logs []*AnalysisLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.executeWithRetry(ctx, "repository.save_batch", sessionID, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(logs).Error
		})
	})
}

// Aggregate computes counts across every stored batch.
func (r *AnalysisRepository) Aggregate(ctx context.Context) (*Aggregation, error) {
	var agg Aggregation
	err := r.executeWithRetry(ctx, "repository.aggregate", "", func() error {
		return r.db.WithContext(ctx).Model(&AnalysisLog{}).Select(
			"COUNT(DISTINCT batch_id) AS batch_count, " +
				"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN NOT failed AND label = 'healthy' THEN 1 ELSE 0 END), 0) AS healthy_count, " +
				"COALESCE(SUM(CASE WHEN NOT failed AND label = 'diseased' THEN 1 ELSE 0 END), 0) AS diseased_count, " +
				"COALESCE(SUM(CASE WHEN failed THEN 1 ELSE 0 END), 0) AS failed_count, " +
				"COALESCE(AVG(CASE WHEN NOT failed THEN confidence END), 0) AS average_confidence",
		).Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !IsTransient(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

// IsTransient reports timeouts and temporary network failures worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
