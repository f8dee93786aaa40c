package feedback

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"qms/branch-queue/internal/clock"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type Repository interface {
	InsertFeedback(ctx context.Context, feedback models.Feedback) error
	ListFeedback(ctx context.Context) ([]models.Feedback, error)
}

type SubmitInput struct {
	Category string
	Rating   int
	Comment  *string
}

// Service stores customer feedback. Ids are ULIDs, so they sort by
// submission time.
type Service struct {
	repo  Repository
	clock clock.Clock
	log   *zap.Logger

	mu      sync.Mutex
	entropy io.Reader
}

func NewService(repo Repository, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		clock:   clk,
		log:     log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *Service) Submit(ctx context.Context, in SubmitInput) (models.Feedback, error) {
	category := strings.TrimSpace(in.Category)
	if category == "" {
		return models.Feedback{}, fmt.Errorf("%w: category is required", store.ErrValidation)
	}
	if in.Rating < models.MinRating || in.Rating > models.MaxRating {
		return models.Feedback{}, fmt.Errorf("%w: rating must be between %d and %d", store.ErrValidation, models.MinRating, models.MaxRating)
	}
	var comment *string
	if in.Comment != nil {
		if trimmed := strings.TrimSpace(*in.Comment); trimmed != "" {
			comment = &trimmed
		}
	}

	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	feedback := models.Feedback{
		ID:        s.newID(now),
		Category:  category,
		Rating:    in.Rating,
		Comment:   comment,
		CreatedAt: now,
	}
	if err := s.repo.InsertFeedback(ctx, feedback); err != nil {
		s.log.Error("store feedback", zap.Error(err))
		return models.Feedback{}, err
	}
	s.log.Info("feedback received",
		zap.String("feedback_id", feedback.ID),
		zap.String("category", feedback.Category),
		zap.Int("rating", feedback.Rating),
	)
	return feedback, nil
}

func (s *Service) List(ctx context.Context) ([]models.Feedback, error) {
	list, err := s.repo.ListFeedback(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Feedback{}
	}
	return list, nil
}

func (s *Service) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}
