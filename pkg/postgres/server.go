package postgres

import (
	"context"
	"log"
	"net"
	"sync"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/pkg/errors"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

// Handlers is the capability set one server dispatches to. Each handler is
// immutable and shared by every connection; per-connection mutable state
// lives in the connection's own ConnectionState and Store.
type Handlers struct {
	Startup  StartupHandler
	Simple   SimpleQueryHandler
	Extended ExtendedQueryHandler
	Copy     CopyHandler
}

// DefaultHandlers is the proxy capability set: trust auth, simple and
// extended relays against the upstream session, COPY rejected.
func DefaultHandlers(exec upstream.Executor) Handlers {
	return Handlers{
		Startup:  TrustStartupHandler{},
		Simple:   NewSimpleQueryProxy(exec),
		Extended: NewExtendedQueryProxy(exec),
		Copy:     RejectCopyHandler{},
	}
}

// Upstream is the shared upstream surface the server consumes: query
// execution plus the session parameter and transaction status reads that
// feed ParameterStatus and ReadyForQuery.
type Upstream interface {
	upstream.Executor

	Parameter(name string) string
	TxStatus() byte
}

type backendKey struct {
	processID uint32
	secretKey uint32
}

// Server accepts downstream connections and runs one dispatcher per
// connection. It also keeps the cancel registry that routes out-of-band
// CancelRequest connections to the session they target.
type Server struct {
	handlers Handlers
	upstream Upstream

	mu          sync.Mutex
	connections map[backendKey]string // connection ID by cancel key
	nextPID     uint32
}

func NewServer(sess Upstream, handlers Handlers) *Server {
	return &Server{
		handlers:    handlers,
		upstream:    sess,
		connections: map[backendKey]string{},
		nextPID:     1000,
	}
}

// Listen accepts connections until ctx is done or the listener fails.
func (s *Server) Listen(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) allocPID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPID++
	return s.nextPID
}

func (s *Server) registerForCancel(key backendKey, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections[key] = connectionID
}

func (s *Server) unregisterForCancel(key backendKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.connections, key)
}

// handleCancelRequest routes a CancelRequest connection to the upstream
// cancel token of the session it names. Unknown keys are ignored, as the
// protocol requires.
func (s *Server) handleCancelRequest(ctx context.Context, req *pgproto3.CancelRequest) {
	s.mu.Lock()
	connectionID, ok := s.connections[backendKey{processID: req.ProcessID, secretKey: req.SecretKey}]
	s.mu.Unlock()

	if !ok {
		return
	}

	if err := s.upstream.Cancel(ctx, connectionID); err != nil {
		log.Printf("Error cancelling upstream query: %v", err)
	}
}
