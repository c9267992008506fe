package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "ArcFlow/internal/errors"
)

// Config 描述 MySQL 连接参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// AllowlistStore 负责从 MySQL 装载可信收款方名单。名单只在启动时
// 读取一次，运行期内核不会回写或再次查询。
type AllowlistStore struct {
	db *sql.DB
}

// NewAllowlistStore 建立连接并确保名单表存在。
func NewAllowlistStore(ctx context.Context, cfg Config) (*AllowlistStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &AllowlistStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodePolicyStoreFailure, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

func (s *AllowlistStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS trusted_recipients (
    address    VARCHAR(64)  NOT NULL,
    label      VARCHAR(128) NOT NULL DEFAULT '',
    created_at BIGINT       NOT NULL,
    PRIMARY KEY (address)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, "初始化可信名单表失败")
	}
	return nil
}

// LoadTrustedRecipients 读取名单全集，地址统一转为小写规范形式。
func (s *AllowlistStore) LoadTrustedRecipients(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM trusted_recipients`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, "查询可信名单失败")
	}
	defer rows.Close()

	recipients := make(map[string]struct{})
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, "读取可信名单记录失败")
		}
		address = strings.ToLower(strings.TrimSpace(address))
		if address == "" {
			continue
		}
		recipients[address] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodePolicyStoreFailure, err, "遍历可信名单失败")
	}
	return recipients, nil
}

// Close 释放数据库连接。
func (s *AllowlistStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
