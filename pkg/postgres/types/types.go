package types

import (
	"strconv"

	"github.com/tuvistavie/securerandom"
)

const (
	FormatText   int16 = 0
	FormatBinary int16 = 1
)

// Startup metadata keys, per the protocol's startup packet.
const (
	MetadataUser     = "user"
	MetadataDatabase = "database"
)

// Column describes one field of a result set on the wire.
type Column struct {
	Name    string
	TypeOID uint32
	Format  int16
}

// Row is one ordered record of a result set. A nil value is SQL NULL.
type Row [][]byte

// Tag is a command completion tag: the command name plus an optional
// affected-row count.
type Tag struct {
	Command  string
	Rows     int64
	HasCount bool
}

func NewTag(command string, rows int64) Tag {
	return Tag{Command: command, Rows: rows, HasCount: true}
}

func (t Tag) String() string {
	if !t.HasCount {
		return t.Command
	}
	if t.Command == "" {
		return strconv.FormatInt(t.Rows, 10)
	}

	return t.Command + " " + strconv.FormatInt(t.Rows, 10)
}

// Response is the per-statement downstream result: exactly one of Execution,
// RowSet or EmptyQuery.
type Response interface {
	response()
}

// Execution reports a statement that produced no row set.
type Execution struct {
	Tag Tag
}

// RowSet carries a column schema, the rows encoded for the wire, and the
// completion tag that closed the result set.
type RowSet struct {
	Columns []Column
	Rows    []Row
	Tag     Tag
}

// EmptyQuery is the response to an empty query string. It is not an error.
type EmptyQuery struct{}

func (Execution) response()  {}
func (RowSet) response()     {}
func (EmptyQuery) response() {}

// Phase is the protocol phase of one connection.
type Phase int

const (
	PhaseAwaitingStartup Phase = iota
	PhaseAuthenticating
	PhaseReady
	PhaseQueryInProgress
	PhaseAwaitingSync
	PhaseCopyIn
)

// ConnectionState is the per-connection mutable state: protocol phase,
// startup metadata and the cancel key handed to the client.
type ConnectionState struct {
	ID        string
	Phase     Phase
	Metadata  map[string]string
	ProcessID uint32
	SecretKey uint32
}

func NewConnectionState() (*ConnectionState, error) {
	connectionID, err := securerandom.Hex(4)
	if err != nil {
		return nil, err
	}

	return &ConnectionState{
		ID:       connectionID,
		Phase:    PhaseAwaitingStartup,
		Metadata: map[string]string{},
	}, nil
}

func (s *ConnectionState) User() string {
	return s.Metadata[MetadataUser]
}

func (s *ConnectionState) Database() string {
	return s.Metadata[MetadataDatabase]
}
