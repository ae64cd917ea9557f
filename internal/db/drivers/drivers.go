package drivers

import "github.com/uptrace/bun"

const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
	DriverPG     = "pg"
)

type Driver interface {
	GetDB() *bun.DB
	Close() error
}
