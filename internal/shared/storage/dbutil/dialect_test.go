package dbutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

type questionDialect struct{}

func (questionDialect) DriverType() DriverType           { return DriverSQLite }
func (questionDialect) Rebind(q string) string           { return StripPgCasts(RebindToQuestion(q)) }
func (questionDialect) ForUpdate() string                { return "" }
func (questionDialect) IsUniqueViolation(err error) bool { return false }
func (questionDialect) AutoMigrate(db *sql.DB) error     { return nil }

func TestRebindToQuestion(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		RebindToQuestion("SELECT * FROM t WHERE id = $1 AND name = $2"))
	assert.Equal(t, "SELECT 1", RebindToQuestion("SELECT 1"))
}

func TestStripPgCasts(t *testing.T) {
	assert.Equal(t, "UPDATE t SET status = $1 WHERE id = $2",
		StripPgCasts("UPDATE t SET status = $1::varchar WHERE id = $2::text"))
}

func TestBuildDynamicQuery(t *testing.T) {
	d := questionDialect{}

	q := BuildDynamicQuery(d, "SELECT id FROM books", nil, "ORDER BY created_at DESC")
	assert.Equal(t, "SELECT id FROM books ORDER BY created_at DESC", q)

	q = BuildDynamicQuery(d, "SELECT id FROM books",
		[]string{"genre = $1", "(title LIKE $2 OR author LIKE $3)"}, "LIMIT $4")
	assert.Equal(t, "SELECT id FROM books WHERE genre = ? AND (title LIKE ? OR author LIKE ?) LIMIT ?", q)
}
