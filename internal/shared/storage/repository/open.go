package repository

import (
	"database/sql"
	"fmt"

	"bookwise/internal/shared/storage/dbutil"
	pgdriver "bookwise/internal/shared/storage/driver/postgres"
	sqlitedriver "bookwise/internal/shared/storage/driver/sqlite"
)

// Open 按驱动类型打开数据库并执行建表
//
// driver 取值 "postgres" 或 "sqlite"，与 config.Config.DatabaseDriver 一致。
func Open(driver, databaseURL string) (*Store, error) {
	var (
		db      *sql.DB
		dialect dbutil.Dialect
		err     error
	)
	switch dbutil.DriverType(driver) {
	case dbutil.DriverSQLite:
		db, err = sqlitedriver.Open(databaseURL)
		dialect = sqlitedriver.NewDialect()
	case dbutil.DriverPostgres, "":
		db, err = pgdriver.Open(databaseURL)
		dialect = pgdriver.NewDialect()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return NewStore(db, dialect), nil
}
