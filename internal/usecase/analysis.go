package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/leafguard/internal/classifier"
	"github.com/example/leafguard/internal/imageprocessor"
	"github.com/example/leafguard/internal/leaf"
	"github.com/example/leafguard/internal/logging"
	"github.com/example/leafguard/internal/repository"
)

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	SaveBatch(ctx context.Context, sessionID string, logs []*repository.AnalysisLog) error
	Aggregate(ctx context.Context) (*repository.Aggregation, error)
}

// Batch is the outcome of one analyze action. Results[i] belongs to input item i.
type Batch struct {
	ID        string
	Results   []leaf.Result
	Summary   leaf.Summary
	CreatedAt time.Time
}

// AnalysisUseCase classifies staged uploads.
type AnalysisUseCase struct {
	classifier     classifier.Classifier
	preprocessor   *imageprocessor.Preprocessor
	cache          ScoreCache
	cacheTTL       time.Duration
	repo           AnalysisRepository
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// NewAnalysisUseCase wires the classifier built at startup into the analysis flow.
// cache may be NopScoreCache and repo may be nil to run without Redis or Postgres.
func NewAnalysisUseCase(c classifier.Classifier, pre *imageprocessor.Preprocessor, cache ScoreCache, cacheTTL time.Duration, repo AnalysisRepository, logger *zap.Logger) *AnalysisUseCase {
	if cache == nil {
		cache = NopScoreCache{}
	}
	return &AnalysisUseCase{
		classifier:     c,
		preprocessor:   pre,
		cache:          cache,
		cacheTTL:       cacheTTL,
		repo:           repo,
		logger:         logger.Named("analysis_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
}

// Evaluate classifies a single item. Decode and inference problems come back as leaf.Failure.
func (uc *AnalysisUseCase) Evaluate(ctx context.Context, item leaf.UploadedItem) leaf.Result {
	result, _ := uc.evaluate(ctx, "", item)
	return result
}

// RunBatch evaluates items in order. One failing item never stops the rest,
// and an empty input yields an empty batch.
func (uc *AnalysisUseCase) RunBatch(ctx context.Context, sessionID string, items []leaf.UploadedItem) *Batch {
	batch := &Batch{
		ID:        uuid.NewString(),
		Results:   make([]leaf.Result, len(items)),
		CreatedAt: uc.now().UTC(),
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.run_batch", sessionID).With(zap.String("batch_id", batch.ID))

	hashes := make([]string, len(items))
	for i, item := range items {
		batch.Results[i], hashes[i] = uc.evaluate(ctx, sessionID, item)

		switch r := batch.Results[i].(type) {
		case leaf.Verdict:
			opLogger.Info("item classified",
				zap.Int("position", i),
				zap.String("item", r.ItemName),
				zap.String("label", string(r.Label)),
				zap.Float64("confidence", r.Confidence))
		case leaf.Failure:
			opLogger.Warn("item failed",
				zap.Int("position", i),
				zap.String("item", r.ItemName),
				zap.String("kind", string(r.Kind)),
				zap.String("message", r.Message))
		}
	}
	batch.Summary = leaf.Summarize(batch.Results)

	opLogger.Info("batch analyzed",
		zap.Int("items", len(items)),
		zap.Int("healthy", batch.Summary.Healthy),
		zap.Int("diseased", batch.Summary.Diseased),
		zap.Int("failed", batch.Summary.Failed))

	uc.persist(ctx, sessionID, batch, hashes)
	return batch
}

func (uc *AnalysisUseCase) evaluate(ctx context.Context, sessionID string, item leaf.UploadedItem) (result leaf.Result, hashHex string) {
	digest := sha1.Sum(item.Data)
	hashHex = hex.EncodeToString(digest[:])

	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("panic while evaluating item", zap.String("item", item.Name), zap.Any("panic", r))
			result = leaf.Failure{ItemName: item.Name, Kind: leaf.FailureInference, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	key := ScoreKey(uc.classifier.ModelID(), uc.preprocessor.ID(), hashHex)
	if score, ok := uc.cachedScore(ctx, sessionID, key); ok {
		return leaf.Decide(item.Name, score), hashHex
	}

	img, err := uc.preprocessor.Decode(item.Data)
	if err != nil {
		return failure(item.Name, err), hashHex
	}

	score, err := uc.classifier.Classify(ctx, uc.preprocessor.Prepare(img))
	if err == nil {
		err = classifier.CheckScore(score)
	}
	if err != nil {
		return failure(item.Name, err), hashHex
	}

	uc.storeScore(ctx, sessionID, key, score)
	return leaf.Decide(item.Name, score), hashHex
}

func failure(name string, err error) leaf.Failure {
	kind := leaf.FailureInference
	var decodeErr *imageprocessor.DecodeError
	if errors.As(err, &decodeErr) {
		kind = leaf.FailureDecode
	}
	return leaf.Failure{ItemName: name, Kind: kind, Message: err.Error()}
}

func (uc *AnalysisUseCase) cachedScore(ctx context.Context, sessionID, key string) (float64, bool) {
	var (
		score float64
		found bool
	)
	err := uc.withCacheRetry(ctx, sessionID, "cache.get.score", func() error {
		var err error
		score, found, err = uc.cache.GetScore(ctx, key)
		return err
	})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cached_score", sessionID).Warn("failed to read score cache", zap.Error(err))
		return 0, false
	}
	if found && classifier.CheckScore(score) != nil {
		return 0, false
	}
	return score, found
}

func (uc *AnalysisUseCase) storeScore(ctx context.Context, sessionID, key string, score float64) {
	err := uc.withCacheRetry(ctx, sessionID, "cache.set.score", func() error {
		return uc.cache.SetScore(ctx, key, score, uc.cacheTTL)
	})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.store_score", sessionID).Warn("failed to write score cache", zap.Error(err))
	}
}

func (uc *AnalysisUseCase) persist(ctx context.Context, sessionID string, batch *Batch, hashes []string) {
	if uc.repo == nil || len(batch.Results) == 0 {
		return
	}

	logs := make([]*repository.AnalysisLog, len(batch.Results))
	for i, r := range batch.Results {
		entry := &repository.AnalysisLog{
			BatchID:   batch.ID,
			SessionID: sessionID,
			Position:  i,
			ItemName:  r.Name(),
			SHA1Hash:  hashes[i],
			CreatedAt: batch.CreatedAt,
		}
		switch v := r.(type) {
		case leaf.Verdict:
			entry.Label = string(v.Label)
			entry.Score = v.Score
			entry.Confidence = v.Confidence
		case leaf.Failure:
			entry.Failed = true
			entry.ErrorKind = string(v.Kind)
			entry.Message = v.Message
		}
		logs[i] = entry
	}

	if err := uc.repo.SaveBatch(ctx, sessionID, logs); err != nil {
		logging.WithOperation(uc.logger, "usecase.persist_batch", sessionID).Warn("failed to persist analysis log",
			zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

func (uc *AnalysisUseCase) withCacheRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !repository.IsTransient(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}
