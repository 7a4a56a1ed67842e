package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

func TestTranslateItemsTwoRowSets(t *testing.T) {
	fields := []pgconn.FieldDescription{textField("?column?", 23)}
	items := []upstream.Item{
		rowItem(fields, []byte("1")),
		tagItem("SELECT 1"),
		rowItem(fields, []byte("2")),
		tagItem("SELECT 1"),
	}

	responses := translateItems(items)
	require.Len(t, responses, 2)

	first, ok := responses[0].(types.RowSet)
	require.True(t, ok)
	require.Len(t, first.Columns, 1)
	assert.Equal(t, "?column?", first.Columns[0].Name)
	assert.Equal(t, uint32(23), first.Columns[0].TypeOID)
	assert.Equal(t, types.FormatText, first.Columns[0].Format)
	require.Len(t, first.Rows, 1)
	assert.Equal(t, []byte("1"), first.Rows[0][0])

	second, ok := responses[1].(types.RowSet)
	require.True(t, ok)
	require.Len(t, second.Rows, 1)
	assert.Equal(t, []byte("2"), second.Rows[0][0])
}

func TestTranslateItemsExecutionTag(t *testing.T) {
	responses := translateItems([]upstream.Item{tagItem("UPDATE 3")})
	require.Len(t, responses, 1)

	exec, ok := responses[0].(types.Execution)
	require.True(t, ok)
	assert.Equal(t, "UPDATE", exec.Tag.Command)
	assert.Equal(t, int64(3), exec.Tag.Rows)
	assert.True(t, exec.Tag.HasCount)
	assert.Equal(t, "UPDATE 3", exec.Tag.String())
}

func TestTranslateItemsMixedBatch(t *testing.T) {
	fields := []pgconn.FieldDescription{textField("id", 23), textField("name", 25)}
	items := []upstream.Item{
		tagItem("CREATE TABLE"),
		rowItem(fields, []byte("1"), []byte("a")),
		rowItem(fields, []byte("2"), nil),
		tagItem("SELECT 2"),
		tagItem("DROP TABLE"),
	}

	responses := translateItems(items)
	require.Len(t, responses, 3)

	_, ok := responses[0].(types.Execution)
	assert.True(t, ok)

	set, ok := responses[1].(types.RowSet)
	require.True(t, ok)
	require.Len(t, set.Rows, 2)
	assert.Equal(t, "SELECT 2", set.Tag.String())

	// NULL stays a NULL marker, never a zero-value placeholder.
	assert.Nil(t, set.Rows[1][1])
	assert.NotNil(t, set.Rows[1][0])

	_, ok = responses[2].(types.Execution)
	assert.True(t, ok)
}

func TestTranslateItemsDropsRowsOfFailedStatement(t *testing.T) {
	fields := []pgconn.FieldDescription{textField("id", 23)}
	items := []upstream.Item{
		tagItem("SELECT 0"),
		rowItem(fields, []byte("1")), // statement failed before its tag
	}

	responses := translateItems(items)
	require.Len(t, responses, 1)
	_, ok := responses[0].(types.Execution)
	assert.True(t, ok)
}

func TestTagFrom(t *testing.T) {
	tests := []struct {
		tag      string
		command  string
		rows     int64
		hasCount bool
	}{
		{"SELECT 2", "SELECT", 2, true},
		{"UPDATE 3", "UPDATE", 3, true},
		{"INSERT 0 1", "INSERT 0", 1, true},
		{"BEGIN", "BEGIN", 0, false},
		{"CREATE TABLE", "CREATE TABLE", 0, false},
	}

	for _, tt := range tests {
		got := tagFrom(pgconn.NewCommandTag(tt.tag))
		assert.Equal(t, tt.command, got.Command, tt.tag)
		assert.Equal(t, tt.rows, got.Rows, tt.tag)
		assert.Equal(t, tt.hasCount, got.HasCount, tt.tag)
		assert.Equal(t, tt.tag, got.String(), tt.tag)
	}
}

func TestResultColumnsFormats(t *testing.T) {
	fields := []pgconn.FieldDescription{textField("a", 23), textField("b", 25)}

	// No codes: all text.
	columns := resultColumns(fields, nil)
	assert.Equal(t, types.FormatText, columns[0].Format)
	assert.Equal(t, types.FormatText, columns[1].Format)

	// One code applies to every column.
	columns = resultColumns(fields, []int16{types.FormatBinary})
	assert.Equal(t, types.FormatBinary, columns[0].Format)
	assert.Equal(t, types.FormatBinary, columns[1].Format)

	// Per-column codes.
	columns = resultColumns(fields, []int16{types.FormatText, types.FormatBinary})
	assert.Equal(t, types.FormatText, columns[0].Format)
	assert.Equal(t, types.FormatBinary, columns[1].Format)
}

func TestValidateFormatCodes(t *testing.T) {
	assert.NoError(t, validateFormatCodes(nil, 2, "parameter"))
	assert.NoError(t, validateFormatCodes([]int16{1}, 3, "parameter"))
	assert.NoError(t, validateFormatCodes([]int16{0, 1}, 2, "parameter"))
	assert.NoError(t, validateFormatCodes([]int16{0, 1, 0}, -1, "result"))

	err := validateFormatCodes([]int16{0, 1, 0}, 2, "parameter")
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)

	err = validateFormatCodes([]int16{7}, 1, "parameter")
	require.ErrorAs(t, err, &encErr)
}

func TestRowDescription(t *testing.T) {
	desc := rowDescription([]types.Column{
		{Name: "id", TypeOID: 23, Format: types.FormatBinary},
	})

	require.Len(t, desc.Fields, 1)
	assert.Equal(t, []byte("id"), desc.Fields[0].Name)
	assert.Equal(t, uint32(23), desc.Fields[0].DataTypeOID)
	assert.Equal(t, types.FormatBinary, desc.Fields[0].Format)
}
