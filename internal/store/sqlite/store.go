// Package sqlite 基于 gorm + SQLite 持久化订单、持仓与交易历史。
package sqlite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tribune/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const memoryDSN = ":memory:"

// tables 启动时自动迁移的表。
var tables = []any{
	&model.OrderModel{},
	&model.OrderEventModel{},
	&model.PositionModel{},
	&model.TradeModel{},
}

type Store struct {
	db *gorm.DB
}

// Open 打开（必要时创建）数据库文件；传 ":memory:" 得到进程内的临时库。
func Open(path string) (*Store, error) {
	dsn, err := dsnFor(path)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open orders db: %w", err)
	}
	if err := db.AutoMigrate(tables...); err != nil {
		return nil, fmt.Errorf("migrate orders db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 内存库按连接隔离，只能有一个连接；文件库开 WAL，少量并发读写足够。
	if dsn == memoryDSN {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func dsnFor(path string) (string, error) {
	path = strings.TrimSpace(path)
	switch path {
	case "":
		return "", errors.New("orders db path is empty")
	case memoryDSN:
		return memoryDSN, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
