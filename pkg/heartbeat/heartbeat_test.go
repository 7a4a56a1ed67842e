package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsFilteredQuery(t *testing.T) {
	filtered := []string{
		"",
		"  ",
		"select ?",
		"SELECT 1",
		"select 1;",
		"BEGIN",
		"commit",
		"ROLLBACK",
		"start transaction",
	}
	for _, q := range filtered {
		assert.True(t, isFilteredQuery(q), "expected %q to be filtered", q)
	}

	kept := []string{
		"select * from users where id = ?",
		"update t set x = ?",
		"select 2",
	}
	for _, q := range kept {
		assert.False(t, isFilteredQuery(q), "expected %q to be kept", q)
	}
}

func TestRecordQuery(t *testing.T) {
	pendingQueries.Clear()

	RecordQuery("select * from users where id = ?", time.Now(), 3, true)
	RecordQuery("commit", time.Now(), 0, false) // filtered

	queries := pendingQueries.GetAll()
	assert.Len(t, queries, 1)
	assert.Equal(t, "select * from users where id = ?", queries[0].Query)
	assert.Equal(t, int64(3), queries[0].RowCount)
	assert.True(t, queries[0].IsPreparedStatement)
}
