package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
)

// StartupHandler negotiates authentication for a new connection. It may
// exchange further messages through send/receive before accepting; returning
// an error terminates the connection.
type StartupHandler interface {
	Authenticate(ctx context.Context, state *types.ConnectionState, send func(pgproto3.BackendMessage)) error
}

// TrustStartupHandler accepts every client that supplies a user, without
// credentials. Real authentication is the transport collaborator's concern;
// this is the default used when the proxy fronts a trusted network.
type TrustStartupHandler struct{}

func (TrustStartupHandler) Authenticate(ctx context.Context, state *types.ConnectionState, send func(pgproto3.BackendMessage)) error {
	if state.User() == "" {
		return protocolViolationf("no user specified in startup message")
	}

	send(&pgproto3.AuthenticationOk{})
	return nil
}
