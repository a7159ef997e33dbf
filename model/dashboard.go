package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// StringList 自定义类型用于 GORM JSON 字段的自动扫描
type StringList []string

// Scan 实现 sql.Scanner 接口
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value 实现 driver.Valuer 接口
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Dashboard 用户面板设置
type Dashboard struct {
	ID                 int64      `json:"-" gorm:"primaryKey;autoIncrement"`
	UserID             int64      `json:"userId" gorm:"uniqueIndex;not null"`
	LastOpenedPage     string     `json:"last_opened_page" gorm:"size:200"`
	CompletedLessons   StringList `json:"completed_lessons" gorm:"type:json"`
	Notes              string     `json:"notes" gorm:"type:text"`
	SelectedGuitarType string     `json:"selected_guitar_type" gorm:"size:50"`
	PageTheme          string     `json:"page_theme" gorm:"size:20"` // light, dark
	UpdatedAt          time.Time  `json:"last_updated"`
}

// TableName 指定表名
func (Dashboard) TableName() string {
	return "dashboards"
}

// ValidTheme 检查主题是否受支持
func ValidTheme(theme string) bool {
	return theme == ThemeLight || theme == ThemeDark
}
