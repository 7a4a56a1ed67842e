package daemon

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/daemon/types"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/heartbeat"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

// Run connects to the upstream server, starts the reporting loops and
// serves the proxy until ctx is done.
func Run(ctx context.Context, opts types.DaemonOpts) error {
	sess, err := upstream.Connect(ctx, opts.UpstreamURI)
	if err != nil {
		return errors.Wrap(err, "connect upstream")
	}
	defer sess.Close(context.Background())

	go heartbeat.Run(ctx, opts)
	go postgres.ProcessSchema(ctx, opts)

	address := fmt.Sprintf("%s:%d", opts.BindAddress, opts.BindPort)
	fmt.Printf("Listening on %s, proxying to upstream\n", address)

	srv := postgres.NewServer(sess, postgres.DefaultHandlers(sess))
	return srv.Listen(ctx, address)
}
