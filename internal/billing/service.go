package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/coachloop/coachloop-backend/pkg/db/models"
	"github.com/coachloop/coachloop-backend/pkg/enums"
	pkgerrors "github.com/coachloop/coachloop-backend/pkg/errors"
	"github.com/coachloop/coachloop-backend/pkg/logger"
)

// ServiceParams wires the billing read service.
type ServiceParams struct {
	Repo Repository
	Logg *logger.Logger
}

// Service exposes the billing record read surface used for feature gating.
type Service struct {
	repo Repository
	logg *logger.Logger
}

// NewService validates dependencies and builds the billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("billing repository is required")
	}
	if params.Logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{repo: params.Repo, logg: params.Logg}, nil
}

// GetRecordForUser returns the caller's billing record. Users who have never
// touched billing get a synthesized free record rather than a 404; the row is
// only materialized once checkout or a webhook writes real state.
func (s *Service) GetRecordForUser(ctx context.Context, userID uuid.UUID) (*models.BillingRecord, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	record, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading billing record")
	}
	if record == nil {
		return &models.BillingRecord{
			UserID: userID,
			Tier:   enums.TierFree,
			Status: enums.SubscriptionStatusNone,
		}, nil
	}
	return record, nil
}
