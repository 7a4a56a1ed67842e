package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

func TestSimpleQueryEmptyString(t *testing.T) {
	exec := &fakeExecutor{}
	handler := NewSimpleQueryProxy(exec)

	responses, err := handler.HandleQuery(context.Background(), newTestState(), "   \n\t")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	_, ok := responses[0].(types.EmptyQuery)
	assert.True(t, ok)

	// The upstream never sees an empty query.
	assert.Empty(t, exec.simpleQueries)
}

func TestSimpleQueryMultiStatement(t *testing.T) {
	fields := []pgconn.FieldDescription{textField("?column?", 23)}
	exec := &fakeExecutor{
		items: []upstream.Item{
			rowItem(fields, []byte("1")),
			tagItem("SELECT 1"),
			tagItem("UPDATE 3"),
		},
	}
	handler := NewSimpleQueryProxy(exec)

	responses, err := handler.HandleQuery(context.Background(), newTestState(), "SELECT 1; UPDATE t SET x=1")
	require.NoError(t, err)
	require.Len(t, responses, 2)

	set, ok := responses[0].(types.RowSet)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), set.Rows[0][0])

	run, ok := responses[1].(types.Execution)
	require.True(t, ok)
	assert.Equal(t, int64(3), run.Tag.Rows)

	require.Len(t, exec.simpleQueries, 1)
	assert.Equal(t, "SELECT 1; UPDATE t SET x=1", exec.simpleQueries[0])
}

func TestSimpleQueryMidBatchError(t *testing.T) {
	exec := &fakeExecutor{
		items: []upstream.Item{
			tagItem("CREATE TABLE"),
		},
		simpleErr: errors.New("relation \"missing\" does not exist"),
	}
	handler := NewSimpleQueryProxy(exec)

	responses, err := handler.HandleQuery(context.Background(), newTestState(), "CREATE TABLE t (id int); SELECT * FROM missing")
	require.Error(t, err)

	// Statements that completed before the failure still produce responses.
	require.Len(t, responses, 1)
	_, ok := responses[0].(types.Execution)
	assert.True(t, ok)
}

func TestSimpleQuerySemicolonsOnly(t *testing.T) {
	exec := &fakeExecutor{}
	handler := NewSimpleQueryProxy(exec)

	responses, err := handler.HandleQuery(context.Background(), newTestState(), ";;")
	require.NoError(t, err)
	require.Len(t, responses, 1)
	_, ok := responses[0].(types.EmptyQuery)
	assert.True(t, ok)

	// Semicolons reach the upstream, which replies with no results.
	assert.Len(t, exec.simpleQueries, 1)
}

func TestResponseRowCount(t *testing.T) {
	responses := []types.Response{
		types.RowSet{Rows: []types.Row{{}, {}}},
		types.Execution{Tag: types.NewTag("UPDATE", 3)},
		types.Execution{Tag: types.Tag{Command: "BEGIN"}},
		types.EmptyQuery{},
	}

	assert.Equal(t, int64(5), responseRowCount(responses))
}
