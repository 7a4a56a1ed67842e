package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

// StatementDescription is the answer to Describe on a statement: its
// parameter types plus the result columns, nil when the statement returns
// no rows.
type StatementDescription struct {
	ParamOIDs []uint32
	Columns   []types.Column
}

// ExtendedQueryHandler implements the extended protocol operations against
// one connection's statement/portal store. The dispatcher owns Close and
// Sync; everything here leaves the store consistent on error.
type ExtendedQueryHandler interface {
	Parse(ctx context.Context, store *Store, msg *pgproto3.Parse) error
	Bind(ctx context.Context, store *Store, msg *pgproto3.Bind) error
	DescribeStatement(ctx context.Context, store *Store, name string) (*StatementDescription, error)
	DescribePortal(ctx context.Context, store *Store, name string) ([]types.Column, error)

	// Execute runs the named portal, returning at most maxRows rows when
	// maxRows > 0. suspended reports that rows remain and the portal can be
	// resumed by a later Execute with the same name.
	Execute(ctx context.Context, state *types.ConnectionState, store *Store, portalName string, maxRows uint32) (resp types.Response, suspended bool, err error)
}

// ExtendedQueryProxy relays extended-protocol operations to the upstream
// session. Statements are kept client-side and executed as the upstream's
// unnamed statement, so nothing leaks across downstream connections.
//
// Row-limited execution buffers the full upstream result in the portal and
// slices it; the upstream driver offers no incremental fetch on a shared
// session. Memory cost is the full result set per open portal.
type ExtendedQueryProxy struct {
	upstream upstream.Executor
}

func NewExtendedQueryProxy(exec upstream.Executor) *ExtendedQueryProxy {
	return &ExtendedQueryProxy{upstream: exec}
}

func (h *ExtendedQueryProxy) Parse(ctx context.Context, store *Store, msg *pgproto3.Parse) error {
	store.PutStatement(&PreparedStatement{
		Name:      msg.Name,
		Query:     msg.Query,
		ParamOIDs: msg.ParameterOIDs,
	})

	return nil
}

func (h *ExtendedQueryProxy) Bind(ctx context.Context, store *Store, msg *pgproto3.Bind) error {
	stmt, ok := store.Statement(msg.PreparedStatement)
	if !ok {
		return statementNotFound(msg.PreparedStatement)
	}

	if err := validateFormatCodes(msg.ParameterFormatCodes, len(msg.Parameters), "parameter"); err != nil {
		return err
	}
	if err := validateFormatCodes(msg.ResultFormatCodes, -1, "result"); err != nil {
		return err
	}

	store.PutPortal(&Portal{
		Name:          msg.DestinationPortal,
		Statement:     stmt,
		Params:        msg.Parameters,
		ParamFormats:  msg.ParameterFormatCodes,
		ResultFormats: msg.ResultFormatCodes,
	})

	return nil
}

func (h *ExtendedQueryProxy) DescribeStatement(ctx context.Context, store *Store, name string) (*StatementDescription, error) {
	stmt, ok := store.Statement(name)
	if !ok {
		return nil, statementNotFound(name)
	}

	if err := h.describeUpstream(ctx, stmt); err != nil {
		return nil, err
	}

	desc := &StatementDescription{ParamOIDs: stmt.ParamOIDs}
	if len(stmt.Fields) > 0 {
		desc.Columns = resultColumns(stmt.Fields, nil)
	}

	return desc, nil
}

func (h *ExtendedQueryProxy) DescribePortal(ctx context.Context, store *Store, name string) ([]types.Column, error) {
	portal, ok := store.Portal(name)
	if !ok {
		return nil, portalNotFound(name)
	}

	if err := h.describeUpstream(ctx, portal.Statement); err != nil {
		return nil, err
	}
	if len(portal.Statement.Fields) == 0 {
		return nil, nil
	}

	return resultColumns(portal.Statement.Fields, portal.ResultFormats), nil
}

// describeUpstream fills the statement's inferred parameter types and result
// fields on first use. Statements are immutable to the client; the cached
// description only makes repeated describes idempotent.
func (h *ExtendedQueryProxy) describeUpstream(ctx context.Context, stmt *PreparedStatement) error {
	if stmt.Described {
		return nil
	}

	desc, err := h.upstream.Describe(ctx, stmt.Query, stmt.ParamOIDs)
	if err != nil {
		return err
	}

	stmt.ParamOIDs = desc.ParamOIDs
	stmt.Fields = desc.Fields
	stmt.Described = true

	return nil
}

func (h *ExtendedQueryProxy) Execute(ctx context.Context, state *types.ConnectionState, store *Store, portalName string, maxRows uint32) (types.Response, bool, error) {
	portal, ok := store.Portal(portalName)
	if !ok {
		return nil, false, portalNotFound(portalName)
	}

	if portal.Statement.Query == "" {
		return types.EmptyQuery{}, false, nil
	}

	// First execute runs the query upstream and buffers the whole result;
	// resumed executes slice from the saved offset.
	if portal.Result == nil {
		start := time.Now()
		result, err := h.upstream.Query(ctx, state.ID, portal.Statement.Query,
			portal.Params, portal.Statement.ParamOIDs, portal.ParamFormats, portal.ResultFormats)

		var rowCount int64
		if result != nil {
			rowCount = result.Tag.RowsAffected()
		}
		recordQuery(portal.Statement.Query, start, rowCount, true)

		if err != nil {
			return nil, false, err
		}
		portal.Result = result
		portal.Pos = 0
	}

	if len(portal.Result.Fields) == 0 {
		portal.Pos = len(portal.Result.Rows)
		return types.Execution{Tag: tagFrom(portal.Result.Tag)}, false, nil
	}

	end := len(portal.Result.Rows)
	if maxRows > 0 && portal.Pos+int(maxRows) < end {
		end = portal.Pos + int(maxRows)
	}

	set := types.RowSet{
		Columns: resultColumns(portal.Result.Fields, portal.ResultFormats),
		Rows:    make([]types.Row, 0, end-portal.Pos),
		Tag:     tagFrom(portal.Result.Tag),
	}
	for _, row := range portal.Result.Rows[portal.Pos:end] {
		set.Rows = append(set.Rows, types.Row(row))
	}
	portal.Pos = end

	suspended := !portal.Exhausted()
	return set, suspended, nil
}
