package postgres

import (
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

// PreparedStatement is a parsed statement held on behalf of the client.
// Statements are immutable once stored: rebinding a name stores a new
// object, and portals keep the one they were bound against.
type PreparedStatement struct {
	Name      string
	Query     string
	ParamOIDs []uint32

	// Filled by the first describe against the upstream.
	Described bool
	Fields    []pgconn.FieldDescription
}

// Portal binds a prepared statement to concrete parameter values and result
// formats. A portal never outlives its statement.
type Portal struct {
	Name          string
	Statement     *PreparedStatement
	Params        [][]byte
	ParamFormats  []int16
	ResultFormats []int16

	// Buffered execution state for row-limited resume. Nil until the first
	// Execute; Pos advances as rows are delivered.
	Result *upstream.QueryResult
	Pos    int
}

// Exhausted reports whether every buffered row has been delivered.
func (p *Portal) Exhausted() bool {
	return p.Result != nil && p.Pos >= len(p.Result.Rows)
}

// Store holds one connection's named statements and portals. The two
// namespaces are independent. Message processing on a connection is strictly
// sequential, so the store needs no locking.
type Store struct {
	statements map[string]*PreparedStatement
	portals    map[string]*Portal
}

func NewStore() *Store {
	return &Store{
		statements: map[string]*PreparedStatement{},
		portals:    map[string]*Portal{},
	}
}

// PutStatement inserts or replaces. Portals bound against a previously
// stored statement under the same name keep their own reference.
func (s *Store) PutStatement(stmt *PreparedStatement) {
	s.statements[stmt.Name] = stmt
}

func (s *Store) Statement(name string) (*PreparedStatement, bool) {
	stmt, ok := s.statements[name]
	return stmt, ok
}

func (s *Store) PutPortal(p *Portal) {
	s.portals[p.Name] = p
}

func (s *Store) Portal(name string) (*Portal, bool) {
	p, ok := s.portals[name]
	return p, ok
}

// CloseStatement removes the named statement and every portal bound to it.
func (s *Store) CloseStatement(name string) {
	stmt, ok := s.statements[name]
	if !ok {
		return
	}
	delete(s.statements, name)

	for portalName, p := range s.portals {
		if p.Statement == stmt {
			delete(s.portals, portalName)
		}
	}
}

func (s *Store) ClosePortal(name string) {
	delete(s.portals, name)
}

// Clear removes all statements and portals. Used on internal protocol
// errors that require a full reset.
func (s *Store) Clear() {
	s.statements = map[string]*PreparedStatement{}
	s.portals = map[string]*Portal{}
}
