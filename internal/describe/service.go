package describe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Brownie44l1/describe-api/internal/cache"
	"github.com/Brownie44l1/describe-api/internal/model"
)

// Classifier turns raw image bytes into ranked labels. It must be
// deterministic: the same bytes always yield the same result.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (model.RankedResult, error)
}

// Service answers describe requests, classifying each distinct image once.
type Service struct {
	classifier Classifier
	cache      *cache.Cache[model.RankedResult]
	logger     *slog.Logger
}

func NewService(classifier Classifier, results *cache.Cache[model.RankedResult], logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		classifier: classifier,
		cache:      results,
		logger:     logger,
	}
}

// Describe returns the ranked labels for an uploaded image. Errors wrap
// model.ErrInvalidImage or model.ErrComputationFailed, or are the caller's
// context error when it gave up waiting.
func (s *Service) Describe(ctx context.Context, image []byte) (model.RankedResult, error) {
	key := cache.Derive(image)

	result, outcome, err := s.cache.Do(ctx, key, func(ctx context.Context) (model.RankedResult, error) {
		return s.classify(ctx, key, image)
	})
	if err != nil {
		s.logger.Debug("describe failed", "key", key.Short(), "outcome", outcome, "error", err)
		return nil, err
	}

	s.logger.Debug("describe", "key", key.Short(), "outcome", outcome)
	// Entries are owned by the cache; callers get their own copy.
	return append(model.RankedResult(nil), result...), nil
}

// Stats exposes the cache counters.
func (s *Service) Stats() cache.Stats {
	return s.cache.Stats()
}

func (s *Service) classify(ctx context.Context, key cache.Key, image []byte) (model.RankedResult, error) {
	result, err := s.classifier.Classify(ctx, image)
	if err != nil {
		if !errors.Is(err, model.ErrInvalidImage) && !errors.Is(err, model.ErrComputationFailed) {
			err = fmt.Errorf("%w: %v", model.ErrComputationFailed, err)
		}
		s.logger.Warn("classification failed", "key", key.Short(), "error", err)
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: classifier returned no labels", model.ErrComputationFailed)
	}

	return append(model.RankedResult(nil), result...), nil
}
