package db

import (
	"context"
	"strings"
	"time"

	"lchat/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

// Connect 建立账号库连接。sqlite: 前缀走本地文件，其余按 Postgres DSN 处理，并带有简单重试等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(dsn, sqlitePrefix) {
		return gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix)), gcfg)
	}

	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate 只迁移账号表；消息历史只保存在内存中。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Account{})
}

// AccountStore 把注册信息写入数据库，启动时再读回身份存储。
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) SaveAccount(ctx context.Context, acc models.Account) error {
	return s.db.WithContext(ctx).Create(&acc).Error
}

// LoadAccounts 按注册顺序返回全部账号。
func (s *AccountStore) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	if err := s.db.WithContext(ctx).Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
