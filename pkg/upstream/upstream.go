package upstream

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// Item is one element of the upstream's simple-query response stream:
// either a data row or a command completion tag. Rows carry the field
// descriptions of the result set they belong to.
type Item struct {
	IsRow  bool
	Fields []pgconn.FieldDescription
	Values [][]byte

	Tag pgconn.CommandTag
}

// QueryResult is a fully drained parameterized query result.
type QueryResult struct {
	Fields []pgconn.FieldDescription
	Rows   [][][]byte
	Tag    pgconn.CommandTag
}

// Executor is the upstream surface the protocol handlers consume. The owner
// argument identifies the downstream connection making the call; it gates
// out-of-band cancellation to the connection that actually has a query in
// flight.
type Executor interface {
	// SimpleQuery runs a (possibly multi-statement) query string and
	// returns the flattened response stream. On a mid-batch failure the
	// items collected so far are returned together with the error.
	SimpleQuery(ctx context.Context, owner string, sql string) ([]Item, error)

	// Query runs one parameterized statement and drains its result.
	Query(ctx context.Context, owner string, sql string, params [][]byte, paramOIDs []uint32, paramFormats []int16, resultFormats []int16) (*QueryResult, error)

	// Describe prepares sql as the unnamed statement and returns its
	// inferred parameter types and result fields.
	Describe(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error)

	// Cancel issues the upstream cancel token if owner's call is the one
	// currently in flight.
	Cancel(ctx context.Context, owner string) error
}

// Session is a single upstream connection shared by every downstream
// connection. pgconn does not support concurrent queries over one session,
// so all calls serialize on a mutex. With many busy downstream connections
// this single session is the throughput bottleneck.
type Session struct {
	mu   sync.Mutex
	conn *pgconn.PgConn

	ownerMu sync.Mutex
	owner   string // connection ID of the in-flight call, empty when idle
}

func Connect(ctx context.Context, uri string) (*Session, error) {
	conn, err := pgconn.Connect(ctx, uri)
	if err != nil {
		return nil, errors.Wrap(err, "connect to upstream")
	}

	return &Session{conn: conn}, nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.Close(ctx)
}

// Parameter returns the upstream's reported value for a session parameter
// such as server_version, or "" when unknown. An in-flight call on another
// connection may be updating the parameter map, so the read serializes too.
func (s *Session) Parameter(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.ParameterStatus(name)
}

// TxStatus returns the upstream transaction status byte ('I', 'T' or 'E').
func (s *Session) TxStatus() byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.TxStatus()
}

func (s *Session) SimpleQuery(ctx context.Context, owner string, sql string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setOwner(owner)
	defer s.clearOwner()

	mrr := s.conn.Exec(ctx, sql)

	var items []Item
	for mrr.NextResult() {
		rr := mrr.ResultReader()

		// FieldDescriptions returns a slice that is reused for the next
		// result, so take a copy per statement.
		var fields []pgconn.FieldDescription
		if fds := rr.FieldDescriptions(); len(fds) > 0 {
			fields = make([]pgconn.FieldDescription, len(fds))
			copy(fields, fds)
		}

		for rr.NextRow() {
			items = append(items, Item{
				IsRow:  true,
				Fields: fields,
				Values: copyValues(rr.Values()),
			})
		}

		tag, err := rr.Close()
		if err != nil {
			mrr.Close()
			return items, errors.Wrap(err, "upstream query")
		}

		items = append(items, Item{Tag: tag})
	}

	if err := mrr.Close(); err != nil {
		return items, errors.Wrap(err, "upstream query")
	}

	return items, nil
}

func (s *Session) Query(ctx context.Context, owner string, sql string, params [][]byte, paramOIDs []uint32, paramFormats []int16, resultFormats []int16) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setOwner(owner)
	defer s.clearOwner()

	rr := s.conn.ExecParams(ctx, sql, params, paramOIDs, paramFormats, resultFormats)

	result := &QueryResult{}
	if fds := rr.FieldDescriptions(); len(fds) > 0 {
		result.Fields = make([]pgconn.FieldDescription, len(fds))
		copy(result.Fields, fds)
	}

	for rr.NextRow() {
		result.Rows = append(result.Rows, copyValues(rr.Values()))
	}

	tag, err := rr.Close()
	if err != nil {
		return nil, errors.Wrap(err, "upstream query")
	}
	result.Tag = tag

	return result, nil
}

func (s *Session) Describe(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The unnamed statement is overwritten by the next Prepare, so nothing
	// accumulates on the upstream session.
	desc, err := s.conn.Prepare(ctx, "", sql, paramOIDs)
	if err != nil {
		return nil, errors.Wrap(err, "upstream describe")
	}

	return desc, nil
}

// Cancel sends a cancel request over a separate upstream connection, as the
// protocol requires. It only fires when owner's call is the in-flight one,
// so one downstream connection cannot cancel another's query.
func (s *Session) Cancel(ctx context.Context, owner string) error {
	s.ownerMu.Lock()
	inFlight := s.owner != "" && s.owner == owner
	s.ownerMu.Unlock()

	if !inFlight {
		return nil
	}

	return errors.Wrap(s.conn.CancelRequest(ctx), "cancel upstream query")
}

func (s *Session) setOwner(owner string) {
	s.ownerMu.Lock()
	s.owner = owner
	s.ownerMu.Unlock()
}

func (s *Session) clearOwner() {
	s.ownerMu.Lock()
	s.owner = ""
	s.ownerMu.Unlock()
}

// copyValues copies one row's values; pgconn reuses the backing buffers on
// the next read. nil (SQL NULL) stays nil.
func copyValues(values [][]byte) [][]byte {
	row := make([][]byte, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		row[i] = make([]byte, len(v))
		copy(row[i], v)
	}

	return row
}
