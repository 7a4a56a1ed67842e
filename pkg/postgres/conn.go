package postgres

import (
	"context"
	"encoding/binary"
	"io"
	"log"
	"net"
	"sort"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/pkg/errors"
	"github.com/tuvistavie/securerandom"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
)

// errCancelRequest marks a connection that only carried a CancelRequest.
// The cancel was handled; the connection just closes.
var errCancelRequest = errors.New("cancel request handled")

// defaultParameters are the session parameters announced after startup when
// the upstream does not report a value. Initialized once, never mutated.
var defaultParameters = map[string]string{
	"server_version":              "15.0",
	"server_encoding":             "UTF8",
	"client_encoding":             "UTF8",
	"DateStyle":                   "ISO, MDY",
	"TimeZone":                    "UTC",
	"integer_datetimes":           "on",
	"standard_conforming_strings": "on",
}

// session is the per-connection dispatcher: it runs the protocol state
// machine and routes each message to the server's shared handlers.
type session struct {
	server  *Server
	conn    net.Conn
	backend *pgproto3.Backend
	state   *types.ConnectionState
	store   *Store
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	state, err := types.NewConnectionState()
	if err != nil {
		log.Printf("Error creating connection state: %v", err)
		return
	}

	sess := &session{
		server:  s,
		conn:    conn,
		backend: pgproto3.NewBackend(conn, conn),
		state:   state,
		store:   NewStore(),
	}

	if err := sess.run(ctx); err != nil {
		if errors.Is(err, errCancelRequest) || errors.Is(err, io.EOF) {
			return
		}
		log.Printf("Connection %s closed: %v", state.ID, err)
	}
}

func (sess *session) run(ctx context.Context) error {
	if err := sess.startup(ctx); err != nil {
		return err
	}
	defer sess.server.unregisterForCancel(backendKey{
		processID: sess.state.ProcessID,
		secretKey: sess.state.SecretKey,
	})

	return sess.messageLoop(ctx)
}

// startup consumes SSL/GSS probes, cancel requests and the startup message,
// then authenticates and announces session parameters.
func (sess *session) startup(ctx context.Context) error {
	for {
		msg, err := sess.backend.ReceiveStartupMessage()
		if err != nil {
			return errors.Wrap(err, "receive startup message")
		}

		switch m := msg.(type) {
		case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
			// TLS termination belongs to the transport in front of us.
			if _, err := sess.conn.Write([]byte{'N'}); err != nil {
				return errors.Wrap(err, "decline encryption request")
			}

		case *pgproto3.CancelRequest:
			sess.server.handleCancelRequest(ctx, m)
			return errCancelRequest

		case *pgproto3.StartupMessage:
			for key, value := range m.Parameters {
				sess.state.Metadata[key] = value
			}
			return sess.finishStartup(ctx)

		default:
			return protocolViolationf("unexpected startup message %T", msg)
		}
	}
}

func (sess *session) finishStartup(ctx context.Context) error {
	sess.state.Phase = types.PhaseAuthenticating

	if err := sess.server.handlers.Startup.Authenticate(ctx, sess.state, sess.send); err != nil {
		sess.send(errorResponse(err))
		sess.backend.Flush()
		return err
	}

	secretKey, err := newSecretKey()
	if err != nil {
		return errors.Wrap(err, "generate secret key")
	}

	sess.state.ProcessID = sess.server.allocPID()
	sess.state.SecretKey = secretKey
	sess.server.registerForCancel(backendKey{
		processID: sess.state.ProcessID,
		secretKey: sess.state.SecretKey,
	}, sess.state.ID)

	sess.sendParameterStatuses()
	sess.send(&pgproto3.BackendKeyData{
		ProcessID: sess.state.ProcessID,
		SecretKey: sess.state.SecretKey,
	})
	sess.sendReadyForQuery()
	sess.state.Phase = types.PhaseReady

	return errors.Wrap(sess.backend.Flush(), "flush startup response")
}

// sendParameterStatuses announces the upstream's actual session parameters,
// falling back to the defaults table for anything it does not report.
func (sess *session) sendParameterStatuses() {
	names := make([]string, 0, len(defaultParameters))
	for name := range defaultParameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := sess.server.upstream.Parameter(name)
		if value == "" {
			value = defaultParameters[name]
		}
		sess.send(&pgproto3.ParameterStatus{Name: name, Value: value})
	}
}

func (sess *session) messageLoop(ctx context.Context) error {
	for {
		msg, err := sess.backend.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "receive message")
		}

		if _, ok := msg.(*pgproto3.Terminate); ok {
			return nil
		}

		// After an extended-protocol error everything up to the next Sync
		// is discarded.
		if sess.state.Phase == types.PhaseAwaitingSync {
			if _, ok := msg.(*pgproto3.Sync); !ok {
				continue
			}
		}

		if err := sess.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

func (sess *session) dispatch(ctx context.Context, msg pgproto3.FrontendMessage) error {
	switch m := msg.(type) {
	case *pgproto3.Query:
		return sess.handleSimpleQuery(ctx, m.String)

	case *pgproto3.Parse:
		if err := sess.server.handlers.Extended.Parse(ctx, sess.store, m); err != nil {
			return sess.handlerError(err)
		}
		sess.send(&pgproto3.ParseComplete{})
		return nil

	case *pgproto3.Bind:
		if err := sess.server.handlers.Extended.Bind(ctx, sess.store, m); err != nil {
			return sess.handlerError(err)
		}
		sess.send(&pgproto3.BindComplete{})
		return nil

	case *pgproto3.Describe:
		return sess.handleDescribe(ctx, m)

	case *pgproto3.Execute:
		return sess.handleExecute(ctx, m)

	case *pgproto3.Close:
		// Closing an unknown name is not an error, per the protocol.
		if m.ObjectType == 'S' {
			sess.store.CloseStatement(m.Name)
		} else {
			sess.store.ClosePortal(m.Name)
		}
		sess.send(&pgproto3.CloseComplete{})
		return nil

	case *pgproto3.Sync:
		sess.state.Phase = types.PhaseReady
		sess.sendReadyForQuery()
		return errors.Wrap(sess.backend.Flush(), "flush sync response")

	case *pgproto3.Flush:
		return errors.Wrap(sess.backend.Flush(), "flush")

	case *pgproto3.CopyData, *pgproto3.CopyDone, *pgproto3.CopyFail:
		if err := sess.server.handlers.Copy.HandleCopy(ctx, sess.state, msg); err != nil {
			return sess.handlerError(err)
		}
		return nil

	default:
		return sess.handlerError(protocolViolationf("unexpected message %T in phase %d", msg, sess.state.Phase))
	}
}

func (sess *session) handleSimpleQuery(ctx context.Context, query string) error {
	sess.state.Phase = types.PhaseQueryInProgress

	responses, err := sess.server.handlers.Simple.HandleQuery(ctx, sess.state, query)
	for _, resp := range responses {
		sess.sendResponse(resp)
	}
	if err != nil {
		sess.send(errorResponse(err))
	}

	sess.state.Phase = types.PhaseReady
	sess.sendReadyForQuery()

	return errors.Wrap(sess.backend.Flush(), "flush query response")
}

func (sess *session) handleDescribe(ctx context.Context, msg *pgproto3.Describe) error {
	if msg.ObjectType == 'S' {
		desc, err := sess.server.handlers.Extended.DescribeStatement(ctx, sess.store, msg.Name)
		if err != nil {
			return sess.handlerError(err)
		}

		sess.send(&pgproto3.ParameterDescription{ParameterOIDs: desc.ParamOIDs})
		sess.sendRowDescription(desc.Columns)
		return nil
	}

	columns, err := sess.server.handlers.Extended.DescribePortal(ctx, sess.store, msg.Name)
	if err != nil {
		return sess.handlerError(err)
	}

	sess.sendRowDescription(columns)
	return nil
}

func (sess *session) handleExecute(ctx context.Context, msg *pgproto3.Execute) error {
	sess.state.Phase = types.PhaseQueryInProgress
	resp, suspended, err := sess.server.handlers.Extended.Execute(ctx, sess.state, sess.store, msg.Portal, msg.MaxRows)
	if err != nil {
		return sess.handlerError(err)
	}
	sess.state.Phase = types.PhaseReady

	switch r := resp.(type) {
	case types.EmptyQuery:
		sess.send(&pgproto3.EmptyQueryResponse{})

	case types.Execution:
		sess.send(&pgproto3.CommandComplete{CommandTag: []byte(r.Tag.String())})

	case types.RowSet:
		// Execute never resends the row description; Describe did that.
		for _, row := range r.Rows {
			sess.send(&pgproto3.DataRow{Values: row})
		}
		if suspended {
			sess.send(&pgproto3.PortalSuspended{})
		} else {
			sess.send(&pgproto3.CommandComplete{CommandTag: []byte(r.Tag.String())})
		}
	}

	return nil
}

// sendResponse writes one simple-protocol statement result.
func (sess *session) sendResponse(resp types.Response) {
	switch r := resp.(type) {
	case types.EmptyQuery:
		sess.send(&pgproto3.EmptyQueryResponse{})

	case types.Execution:
		sess.send(&pgproto3.CommandComplete{CommandTag: []byte(r.Tag.String())})

	case types.RowSet:
		sess.send(rowDescription(r.Columns))
		for _, row := range r.Rows {
			sess.send(&pgproto3.DataRow{Values: row})
		}
		sess.send(&pgproto3.CommandComplete{CommandTag: []byte(r.Tag.String())})
	}
}

func (sess *session) sendRowDescription(columns []types.Column) {
	if len(columns) == 0 {
		sess.send(&pgproto3.NoData{})
		return
	}
	sess.send(rowDescription(columns))
}

// handlerError reports an extended-protocol failure and holds the
// connection in AwaitingSync until the client resynchronizes. A protocol
// violation also resets the statement/portal store.
func (sess *session) handlerError(err error) error {
	var violation *ProtocolViolationError
	if errors.As(err, &violation) {
		sess.store.Clear()
	}

	sess.send(errorResponse(err))
	sess.state.Phase = types.PhaseAwaitingSync

	return errors.Wrap(sess.backend.Flush(), "flush error response")
}

// newSecretKey draws the cancel key from the crypto source. A predictable
// key would let one client forge a CancelRequest for another session.
func newSecretKey() (uint32, error) {
	b, err := securerandom.RandomBytes(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(b), nil
}

func (sess *session) sendReadyForQuery() {
	sess.send(&pgproto3.ReadyForQuery{TxStatus: sess.server.upstream.TxStatus()})
}

func (sess *session) send(msg pgproto3.BackendMessage) {
	sess.backend.Send(msg)
}
