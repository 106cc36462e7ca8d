package geostore

import (
	"database/sql"

	"district-api/internal/logger"
)

// 背景：首次运行自动创建所需表与索引，保障后续导入与查询
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构；语法同时兼容 Postgres 与 SQLite
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _districts (
            id TEXT PRIMARY KEY,
            country TEXT NOT NULL,
            name TEXT NOT NULL,
            jurisdiction TEXT NOT NULL DEFAULT '[]',
            dtype TEXT NOT NULL DEFAULT 'unknown',
            geometry TEXT NOT NULL,
            min_lon DOUBLE PRECISION NOT NULL,
            min_lat DOUBLE PRECISION NOT NULL,
            max_lon DOUBLE PRECISION NOT NULL,
            max_lat DOUBLE PRECISION NOT NULL,
            source TEXT NOT NULL DEFAULT '',
            authority INT NOT NULL DEFAULT 0,
            imported_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS idx_districts_country ON _districts(country)`,
		`CREATE TABLE IF NOT EXISTS _snapshots (
            cid TEXT PRIMARY KEY,
            merkle_root TEXT NOT NULL,
            valid_from TIMESTAMP NOT NULL,
            valid_until TIMESTAMP,
            census_year INT NOT NULL DEFAULT 0,
            is_current BOOLEAN NOT NULL DEFAULT FALSE
        )`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_valid_from ON _snapshots(valid_from)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
