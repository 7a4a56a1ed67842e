package postgres

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/heartbeat"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

// SimpleQueryHandler executes one simple-protocol query string and returns
// the ordered per-statement responses. When a statement mid-batch fails, the
// responses of the statements that completed before it are returned together
// with the error.
type SimpleQueryHandler interface {
	HandleQuery(ctx context.Context, state *types.ConnectionState, query string) ([]types.Response, error)
}

// SimpleQueryProxy relays simple queries to the upstream session. Semicolon
// separated statements are executed server-side in one round trip.
type SimpleQueryProxy struct {
	upstream upstream.Executor
}

func NewSimpleQueryProxy(exec upstream.Executor) *SimpleQueryProxy {
	return &SimpleQueryProxy{upstream: exec}
}

func (h *SimpleQueryProxy) HandleQuery(ctx context.Context, state *types.ConnectionState, query string) ([]types.Response, error) {
	if strings.TrimSpace(query) == "" {
		return []types.Response{types.EmptyQuery{}}, nil
	}

	start := time.Now()
	items, err := h.upstream.SimpleQuery(ctx, state.ID, query)
	responses := translateItems(items)

	recordQuery(query, start, responseRowCount(responses), false)

	if err != nil {
		return responses, err
	}

	// A query of only semicolons produces no upstream results at all.
	if len(responses) == 0 {
		responses = append(responses, types.EmptyQuery{})
	}

	return responses, nil
}

func responseRowCount(responses []types.Response) int64 {
	var count int64
	for _, resp := range responses {
		switch r := resp.(type) {
		case types.RowSet:
			count += int64(len(r.Rows))
		case types.Execution:
			if r.Tag.HasCount {
				count += r.Tag.Rows
			}
		}
	}

	return count
}

func recordQuery(query string, start time.Time, rowCount int64, prepared bool) {
	cleanedQuery, err := cleanQuery(query)
	if err != nil {
		log.Printf("Error cleaning query: %v", err)
		return
	}

	heartbeat.RecordQuery(cleanedQuery, start, rowCount, prepared)
}
