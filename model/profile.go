package model

import "time"

// Profile 用户资料，注册时与用户一起创建
type Profile struct {
	ID             int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	UserID         int64     `json:"userId" gorm:"uniqueIndex;not null"`
	FirstName      string    `json:"first_name" gorm:"size:30"`
	LastName       string    `json:"last_name" gorm:"size:30"`
	Phone          string    `json:"phone" gorm:"size:20"`
	Profession     string    `json:"profession" gorm:"size:100"`
	Genre          string    `json:"genre" gorm:"size:50"`
	Instrument     string    `json:"instrument" gorm:"size:50"`
	Level          string    `json:"level" gorm:"size:20"`
	Bio            string    `json:"bio" gorm:"size:500"`
	ProfilePicture string    `json:"-" gorm:"size:255"` // 对象存储中的 key
	UpdatedAt      time.Time `json:"last_modified"`
}

// TableName 指定表名
func (Profile) TableName() string {
	return "profiles"
}

// ProfileView 是返回给前端的资料
type ProfileView struct {
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Phone             string    `json:"phone"`
	Profession        string    `json:"profession"`
	Genre             string    `json:"genre"`
	Instrument        string    `json:"instrument"`
	Level             string    `json:"level"`
	Bio               string    `json:"bio"`
	ProfilePictureURL string    `json:"profile_picture_url,omitempty"`
	LastModified      time.Time `json:"last_modified"`
}
