// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wfunc/tapserver/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormArchive 使用GORM的回合归档实现
type GormArchive struct {
	db *gorm.DB
}

// NewGormArchive 创建GORM PostgreSQL数据库连接
func NewGormArchive(host string, port int, user, password, dbname string) (*GormArchive, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
	return OpenGormArchive(postgres.Open(dsn))
}

// OpenGormArchive opens the archive on any GORM dialector and migrates it.
func OpenGormArchive(dialector gorm.Dialector) (*GormArchive, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.RoundRecord{}); err != nil {
		return nil, err
	}

	return &GormArchive{db: db}, nil
}

// SaveRound 保存回合记录
func (p *GormArchive) SaveRound(ctx context.Context, record *models.RoundRecord) error {
	if record.ID == "" {
		return errors.New("round record id is required")
	}
	return p.db.WithContext(ctx).Create(record).Error
}

// RecentRounds 查询房间最近的回合，按结束时间倒序
func (p *GormArchive) RecentRounds(ctx context.Context, roomID string, limit int) ([]models.RoundRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []models.RoundRecord
	err := p.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("finished_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// TopWinners 统计胜场最多的玩家
func (p *GormArchive) TopWinners(ctx context.Context, limit int) ([]models.PlayerWins, error) {
	if limit <= 0 {
		limit = 10
	}

	var wins []models.PlayerWins
	err := p.db.WithContext(ctx).Raw(`
        SELECT winner_name, COUNT(*) AS wins
        FROM round_records
        WHERE winner_id <> ''
        GROUP BY winner_name
        ORDER BY wins DESC, winner_name ASC
        LIMIT ?`, limit).Scan(&wins).Error

	return wins, err
}

// Close 关闭数据库连接
func (p *GormArchive) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
