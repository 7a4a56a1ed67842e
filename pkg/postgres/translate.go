package postgres

import (
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

// translateItems demultiplexes an upstream simple-query response stream into
// one Response per statement. Rows accumulate until their statement's
// completion tag arrives; a tag with no buffered rows becomes an Execution,
// otherwise a RowSet whose schema comes from the buffered rows' own field
// descriptions. Trailing rows with no tag belong to a failed statement and
// are dropped; the caller forwards the upstream error after the completed
// responses.
func translateItems(items []upstream.Item) []types.Response {
	var responses []types.Response
	var rowBuf []upstream.Item

	for _, item := range items {
		if item.IsRow {
			rowBuf = append(rowBuf, item)
			continue
		}

		if len(rowBuf) == 0 {
			responses = append(responses, types.Execution{Tag: tagFrom(item.Tag)})
		} else {
			responses = append(responses, rowSetFromItems(rowBuf, item.Tag))
			rowBuf = rowBuf[:0]
		}
	}

	return responses
}

func rowSetFromItems(rowBuf []upstream.Item, tag pgconn.CommandTag) types.RowSet {
	set := types.RowSet{
		// Column schema is inferred from the first row's own metadata,
		// never from a static table.
		Columns: columnsFromFields(rowBuf[0].Fields),
		Rows:    make([]types.Row, 0, len(rowBuf)),
		Tag:     tagFrom(tag),
	}
	for _, item := range rowBuf {
		set.Rows = append(set.Rows, types.Row(item.Values))
	}

	return set
}

// translateResult converts a drained parameterized query result into the
// per-statement Response shape.
func translateResult(result *upstream.QueryResult) types.Response {
	if len(result.Fields) == 0 {
		return types.Execution{Tag: tagFrom(result.Tag)}
	}

	set := types.RowSet{
		Columns: columnsFromFields(result.Fields),
		Rows:    make([]types.Row, 0, len(result.Rows)),
		Tag:     tagFrom(result.Tag),
	}
	for _, row := range result.Rows {
		set.Rows = append(set.Rows, types.Row(row))
	}

	return set
}

// columnsFromFields maps the upstream driver's field descriptions to wire
// column descriptors. The format code is whatever the upstream encoded,
// which reflects the formats requested at bind time (text by default).
func columnsFromFields(fields []pgconn.FieldDescription) []types.Column {
	columns := make([]types.Column, 0, len(fields))
	for _, fd := range fields {
		columns = append(columns, types.Column{
			Name:    fd.Name,
			TypeOID: fd.DataTypeOID,
			Format:  fd.Format,
		})
	}

	return columns
}

// resultColumns applies the portal's requested result formats to a described
// statement's fields, one code for all columns or one per column.
func resultColumns(fields []pgconn.FieldDescription, resultFormats []int16) []types.Column {
	columns := columnsFromFields(fields)
	for i := range columns {
		switch {
		case len(resultFormats) == 0:
			columns[i].Format = types.FormatText
		case len(resultFormats) == 1:
			columns[i].Format = resultFormats[0]
		case i < len(resultFormats):
			columns[i].Format = resultFormats[i]
		}
	}

	return columns
}

// tagFrom splits a driver command tag like "UPDATE 3" or "INSERT 0 1" into
// the command name and trailing affected-row count.
func tagFrom(ct pgconn.CommandTag) types.Tag {
	s := ct.String()
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		if n, err := strconv.ParseInt(s[i+1:], 10, 64); err == nil {
			return types.NewTag(s[:i], n)
		}
	}

	return types.Tag{Command: s}
}

func rowDescription(columns []types.Column) *pgproto3.RowDescription {
	desc := &pgproto3.RowDescription{
		Fields: make([]pgproto3.FieldDescription, 0, len(columns)),
	}
	for _, col := range columns {
		desc.Fields = append(desc.Fields, pgproto3.FieldDescription{
			Name:         []byte(col.Name),
			DataTypeOID:  col.TypeOID,
			DataTypeSize: -1,
			TypeModifier: -1,
			Format:       col.Format,
		})
	}

	return desc
}

// validateFormatCodes enforces the protocol rule that a format code list is
// empty (all text), a single code for every item, or one code per item.
// Pass n < 0 to skip the arity check when the item count is not yet known.
func validateFormatCodes(codes []int16, n int, what string) error {
	if n >= 0 && len(codes) > 1 && len(codes) != n {
		return encodingErrorf("bind message has %d %s format codes for %d values", len(codes), what, n)
	}
	for _, code := range codes {
		if code != types.FormatText && code != types.FormatBinary {
			return encodingErrorf("unknown %s format code %d", what, code)
		}
	}

	return nil
}
