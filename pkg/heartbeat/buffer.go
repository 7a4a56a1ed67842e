package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	daemontypes "github.com/pgrelay-io/pgrelay-proxy/pkg/daemon/types"
	heartbeattypes "github.com/pgrelay-io/pgrelay-proxy/pkg/heartbeat/types"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/ringbuffer"
)

const (
	defaultMaxPendingQueriesSize = 10000
)

var (
	Interval = 30 * time.Second

	// pendingQueries is the ring buffer of queries pending to send to the API
	pendingQueries = ringbuffer.New[heartbeattypes.Query](defaultMaxPendingQueriesSize)
)

// Run flushes the pending query buffer on an interval until ctx is done.
// It is a no-op when no API URL is configured.
func Run(ctx context.Context, opts daemontypes.DaemonOpts) {
	if opts.APIURL == "" {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(Interval):
			if err := SendPendingQueries(ctx, opts); err != nil {
				log.Printf("Error sending pending queries: %v", err)
			}
		}
	}
}

func SendPendingQueries(ctx context.Context, opts daemontypes.DaemonOpts) error {
	queries := pendingQueries.GetAll()
	if len(queries) == 0 {
		return nil
	}

	payload := heartbeattypes.QueriesPayload{
		Queries: queries,
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %v", err)
	}

	url := fmt.Sprintf("%s/v1/queries", opts.APIURL)
	req, err := http.NewRequestWithContext(ctx, "PUT", url, bytes.NewBuffer(marshaled))
	if err != nil {
		return fmt.Errorf("create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", opts.Token))

	if opts.Environment != "" {
		req.Header.Set("X-PgRelay-Environment", opts.Environment)
	}

	req.Header.Set("X-PgRelay-Database", opts.DatabaseName)

	client := http.DefaultClient
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	pendingQueries.Clear()

	return nil
}
