// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// zapWriter 把GORM日志写入zap
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.Log.Debugf(format, args...)
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(dsn string) (*GormPostgreSQL, error) {
	gormLogger := gormlogger.New(
		zapWriter{},
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.GormMember{}); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

func (p *GormPostgreSQL) RecordJoin(ctx context.Context, uuid string) error {
	now := time.Now()
	member := models.GormMember{UUID: uuid, Online: true, JoinedAt: now}
	return p.upsert(ctx, &member, map[string]interface{}{
		"online":     true,
		"joined_at":  now,
		"left_at":    nil,
		"updated_at": now,
	}).Error
}

func (p *GormPostgreSQL) RecordLeave(ctx context.Context, uuid string) error {
	now := time.Now()
	member := models.GormMember{UUID: uuid, Online: false, LeftAt: &now}
	return p.upsert(ctx, &member, map[string]interface{}{
		"online":     false,
		"left_at":    now,
		"updated_at": now,
	}).Error
}

func (p *GormPostgreSQL) upsert(ctx context.Context, member *models.GormMember, updates map[string]interface{}) *gorm.DB {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(member)
}

func (p *GormPostgreSQL) ResetOnline(ctx context.Context) error {
	return p.db.WithContext(ctx).
		Model(&models.GormMember{}).
		Where("online = ?", true).
		Updates(map[string]interface{}{"online": false, "left_at": time.Now()}).Error
}

// Member 加载成员记录
func (p *GormPostgreSQL) Member(ctx context.Context, uuid string) (*models.GormMember, error) {
	var member models.GormMember
	if err := p.db.WithContext(ctx).Where("uuid = ?", uuid).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &member, nil
}

// OnlineMembers 在线成员列表
func (p *GormPostgreSQL) OnlineMembers(ctx context.Context) ([]models.GormMember, error) {
	var members []models.GormMember
	err := p.db.WithContext(ctx).Where("online = ?", true).Order("joined_at").Find(&members).Error
	return members, err
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
