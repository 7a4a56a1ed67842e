package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
)

// CopyHandler handles COPY sub-protocol messages.
type CopyHandler interface {
	HandleCopy(ctx context.Context, state *types.ConnectionState, msg pgproto3.FrontendMessage) error
}

// RejectCopyHandler refuses the COPY sub-protocol. The shared upstream
// session cannot be handed to a client for streaming without starving every
// other connection.
type RejectCopyHandler struct{}

func (RejectCopyHandler) HandleCopy(ctx context.Context, state *types.ConnectionState, msg pgproto3.FrontendMessage) error {
	return unsupported("COPY")
}
