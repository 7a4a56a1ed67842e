package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgrelay-io/pgrelay-proxy/pkg/postgres/types"
	"github.com/pgrelay-io/pgrelay-proxy/pkg/upstream"
)

// fakeExecutor is an in-memory upstream.Executor with canned responses.
type fakeExecutor struct {
	items     []upstream.Item
	simpleErr error

	result   *upstream.QueryResult
	queryErr error

	desc        *pgconn.StatementDescription
	describeErr error

	parameters map[string]string
	txStatus   byte

	simpleQueries []string
	queryCalls    int
	describeCalls int
	cancelCalls   int
}

func (f *fakeExecutor) SimpleQuery(ctx context.Context, owner string, sql string) ([]upstream.Item, error) {
	f.simpleQueries = append(f.simpleQueries, sql)
	return f.items, f.simpleErr
}

func (f *fakeExecutor) Query(ctx context.Context, owner string, sql string, params [][]byte, paramOIDs []uint32, paramFormats []int16, resultFormats []int16) (*upstream.QueryResult, error) {
	f.queryCalls++
	return f.result, f.queryErr
}

func (f *fakeExecutor) Describe(ctx context.Context, sql string, paramOIDs []uint32) (*pgconn.StatementDescription, error) {
	f.describeCalls++
	return f.desc, f.describeErr
}

func (f *fakeExecutor) Cancel(ctx context.Context, owner string) error {
	f.cancelCalls++
	return nil
}

func (f *fakeExecutor) Parameter(name string) string {
	return f.parameters[name]
}

func (f *fakeExecutor) TxStatus() byte {
	if f.txStatus == 0 {
		return 'I'
	}
	return f.txStatus
}

func newTestState() *types.ConnectionState {
	return &types.ConnectionState{
		ID:       "test",
		Phase:    types.PhaseReady,
		Metadata: map[string]string{},
	}
}

func textField(name string, oid uint32) pgconn.FieldDescription {
	return pgconn.FieldDescription{
		Name:         name,
		DataTypeOID:  oid,
		DataTypeSize: -1,
		TypeModifier: -1,
		Format:       0,
	}
}

func rowItem(fields []pgconn.FieldDescription, values ...[]byte) upstream.Item {
	return upstream.Item{IsRow: true, Fields: fields, Values: values}
}

func tagItem(tag string) upstream.Item {
	return upstream.Item{Tag: pgconn.NewCommandTag(tag)}
}
