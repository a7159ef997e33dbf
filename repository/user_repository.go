package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MusicFlow/model"

	"gorm.io/gorm"
)

// UserRepository 用户数据访问接口
type UserRepository interface {
	// Create 创建用户，同时创建空的资料和面板
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByLogin 按用户名或邮箱查找
	GetByLogin(ctx context.Context, login string) (*model.User, error)
	ExistsUsername(ctx context.Context, username string) (bool, error)
	// ExistsEmail 检查邮箱是否被其他用户使用，excludeID 为 0 时检查全部
	ExistsEmail(ctx context.Context, email string, excludeID int64) (bool, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// gormUserRepository GORM 实现
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建 GORM 用户仓库
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// Create 在事务中创建用户、资料和面板
func (r *gormUserRepository) Create(ctx context.Context, user *model.User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.Profile{UserID: user.ID}).Error; err != nil {
			return err
		}
		return tx.Create(&model.Dashboard{UserID: user.ID, PageTheme: model.ThemeLight}).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to create user %s: %w", user.Username, err)
	}
	return nil
}

// first 查询单个用户，未找到时返回 nil, nil
func (r *gormUserRepository) first(ctx context.Context, query string, args ...interface{}) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByID 根据ID获取用户
func (r *gormUserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByUsername 根据用户名获取用户（不区分大小写）
func (r *gormUserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.first(ctx, "LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username)))
}

// GetByEmail 根据邮箱获取用户（不区分大小写）
func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.first(ctx, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email)))
}

// GetByLogin 含 @ 时按邮箱查找，否则按用户名
func (r *gormUserRepository) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	if strings.Contains(login, "@") {
		return r.GetByEmail(ctx, login)
	}
	return r.GetByUsername(ctx, login)
}

// ExistsUsername 检查用户名是否已注册
func (r *gormUserRepository) ExistsUsername(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))).
		Count(&count).Error
	return count > 0, err
}

// ExistsEmail 检查邮箱是否已注册
func (r *gormUserRepository) ExistsEmail(ctx context.Context, email string, excludeID int64) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&model.User{}).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email)))
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

// UpdatePassword 更新密码哈希
func (r *gormUserRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("password_hash", hash).Error
}

// UpdateEmail 更新邮箱
func (r *gormUserRepository) UpdateEmail(ctx context.Context, id int64, email string) error {
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("email", strings.TrimSpace(email)).Error
	if isDuplicate(err) {
		return ErrDuplicateUser
	}
	return err
}

// TouchLastLogin 记录最后登录时间
func (r *gormUserRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("last_login", at).Error
}
