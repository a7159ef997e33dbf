package repository

import (
	"context"

	"MusicFlow/model"

	"gorm.io/gorm"
)

// DashboardRepository 用户面板数据访问接口
type DashboardRepository interface {
	// GetByUserID 获取面板，不存在时以浅色主题创建
	GetByUserID(ctx context.Context, userID int64) (*model.Dashboard, error)
	UpdateTheme(ctx context.Context, userID int64, theme string) error
}

type gormDashboardRepository struct {
	db *gorm.DB
}

// NewGormDashboardRepository 创建 GORM 面板仓库
func NewGormDashboardRepository(db *gorm.DB) DashboardRepository {
	return &gormDashboardRepository{db: db}
}

func (r *gormDashboardRepository) GetByUserID(ctx context.Context, userID int64) (*model.Dashboard, error) {
	var dashboard model.Dashboard
	err := r.db.WithContext(ctx).
		Where(model.Dashboard{UserID: userID}).
		Attrs(model.Dashboard{PageTheme: model.ThemeLight}).
		FirstOrCreate(&dashboard).Error
	if err != nil {
		return nil, err
	}
	return &dashboard, nil
}

// UpdateTheme 更新页面主题
func (r *gormDashboardRepository) UpdateTheme(ctx context.Context, userID int64, theme string) error {
	dashboard, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(dashboard).Update("page_theme", theme).Error
}
