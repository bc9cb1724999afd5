// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormMember 成员模型，离开后保留记录，重新加入时原地更新
type GormMember struct {
	gorm.Model
	UUID     string `gorm:"uniqueIndex;not null"`
	Online   bool   `gorm:"not null;default:false"`
	JoinedAt time.Time
	LeftAt   *time.Time
}

func (GormMember) TableName() string {
	return "members"
}
