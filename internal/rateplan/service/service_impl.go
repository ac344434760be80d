package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	rateplandomain "github.com/smallbiznis/voxbill/internal/rateplan/domain"
	"github.com/smallbiznis/voxbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	log  *zap.Logger
	repo repository.Repository[rateplandomain.RatePlan]
}

func NewService(p Params) rateplandomain.Service {
	return &Service{
		log:  p.Log.Named("rateplan.service"),
		repo: repository.ProvideStore[rateplandomain.RatePlan](p.DB),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*rateplandomain.RatePlan, error) {
	plan, err := s.repo.FindOne(ctx, &rateplandomain.RatePlan{ID: id})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, rateplandomain.ErrRatePlanNotFound
	}
	return plan, nil
}
