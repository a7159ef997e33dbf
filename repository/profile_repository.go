package repository

import (
	"context"

	"MusicFlow/model"

	"gorm.io/gorm"
)

// ProfileRepository 用户资料数据访问接口
type ProfileRepository interface {
	// GetByUserID 获取资料，不存在时创建空资料
	GetByUserID(ctx context.Context, userID int64) (*model.Profile, error)
	Update(ctx context.Context, profile *model.Profile) error
}

type gormProfileRepository struct {
	db *gorm.DB
}

// NewGormProfileRepository 创建 GORM 资料仓库
func NewGormProfileRepository(db *gorm.DB) ProfileRepository {
	return &gormProfileRepository{db: db}
}

func (r *gormProfileRepository) GetByUserID(ctx context.Context, userID int64) (*model.Profile, error) {
	var profile model.Profile
	err := r.db.WithContext(ctx).
		Where(model.Profile{UserID: userID}).
		FirstOrCreate(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *gormProfileRepository) Update(ctx context.Context, profile *model.Profile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}
