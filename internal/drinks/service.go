package drinks

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/plindsay/coffeeshop/internal/log"
	apperrors "github.com/plindsay/coffeeshop/pkg/errors"
)

// Input is the request body of create and update. A nil field was absent
// from the request (or null).
type Input struct {
	Title  *string `json:"title"`
	Recipe Recipe  `json:"recipe"`
}

// Service implements the menu operations on top of a Repository. Every
// error it returns is an *apperrors.AppError carrying the response status.
type Service struct {
	repo   *Repository
	logger *log.Logger
	biz    *log.BusinessLogger
}

// NewService creates a drinks service.
func NewService(repo *Repository, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(nil)
	}
	return &Service{
		repo:   repo,
		logger: logger,
		biz:    logger.NewBusinessLogger("drinks"),
	}
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return apperrors.NewExternalError("database", "ping", err)
	}
	return nil
}

// List returns the whole menu.
func (s *Service) List(ctx context.Context) ([]Drink, error) {
	drinks, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list drinks", err)
	}
	return drinks, nil
}

// Create adds a drink. Title and recipe are both required and non-empty.
func (s *Service) Create(ctx context.Context, in Input) (Drink, error) {
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return Drink{}, apperrors.NewValidationError("title is required")
	}
	if len(in.Recipe) == 0 {
		return Drink{}, apperrors.NewValidationError("recipe is required")
	}

	d, err := s.repo.Create(ctx, *in.Title, in.Recipe)
	if err != nil {
		if errors.Is(err, ErrDuplicateTitle) {
			s.biz.BusinessRule(ctx, "unique_title", false, "drink title already exists", "title", *in.Title)
		}
		return Drink{}, apperrors.NewUnprocessableError("create drink", err)
	}

	s.biz.EntityCreated(ctx, "drink", strconv.FormatInt(d.ID, 10), "title", d.Title)
	return d, nil
}

// Update changes the fields present in the input and leaves the rest as they were.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Drink, error) {
	d, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Drink{}, apperrors.NewNotFoundError("drink", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return Drink{}, apperrors.NewUnprocessableError("update drink", err)
	}

	var changed []string
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return Drink{}, apperrors.NewUnprocessableError("update drink", errors.New("title must not be empty"))
		}
		d.Title = *in.Title
		changed = append(changed, "title")
	}
	if in.Recipe != nil {
		if len(in.Recipe) == 0 {
			return Drink{}, apperrors.NewUnprocessableError("update drink", errors.New("recipe must not be empty"))
		}
		d.Recipe = in.Recipe
		changed = append(changed, "recipe")
	}

	if err := s.repo.Update(ctx, d); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Drink{}, apperrors.NewNotFoundError("drink", strconv.FormatInt(id, 10))
		}
		return Drink{}, apperrors.NewUnprocessableError("update drink", err)
	}

	s.biz.EntityUpdated(ctx, "drink", strconv.FormatInt(id, 10), changed)
	return d, nil
}

// Delete removes a drink.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return apperrors.NewNotFoundError("drink", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return apperrors.NewUnprocessableError("delete drink", err)
	}

	s.biz.EntityDeleted(ctx, "drink", strconv.FormatInt(id, 10))
	return nil
}
