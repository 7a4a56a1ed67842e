package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	daemontypes "github.com/pgrelay-io/pgrelay-proxy/pkg/daemon/types"
	heartbeattypes "github.com/pgrelay-io/pgrelay-proxy/pkg/heartbeat/types"
)

var (
	SchemaInterval = 30 * time.Minute
)

// ProcessSchema periodically reports the upstream database's schema to the
// API. It runs until ctx is done and is a no-op when no API URL is
// configured.
func ProcessSchema(ctx context.Context, opts daemontypes.DaemonOpts) {
	if opts.APIURL == "" {
		return
	}

	for {
		if err := collectAndSendSchema(ctx, opts); err != nil {
			log.Printf("Error in schema collection: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(SchemaInterval):
		}
	}
}

func collectAndSendSchema(ctx context.Context, opts daemontypes.DaemonOpts) error {
	tables, err := listTables(ctx, opts.UpstreamURI, opts.DatabaseName)
	if err != nil {
		return fmt.Errorf("list tables: %v", err)
	}

	primaryKeys, err := listPrimaryKeys(ctx, opts.UpstreamURI)
	if err != nil {
		return fmt.Errorf("list primary keys: %v", err)
	}

	for i, table := range tables {
		if _, ok := primaryKeys[table.TableName]; !ok {
			primaryKeys[table.TableName] = []string{}
		}

		tables[i].PrimaryKeys = primaryKeys[table.TableName]
	}

	payload := heartbeattypes.TablesPayload{
		Tables: tables,
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %v", err)
	}

	url := fmt.Sprintf("%s/v1/schema", opts.APIURL)
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

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// listTables reads table and column metadata from information_schema over a
// short-lived dedicated connection, so schema collection never contends with
// proxied queries on the shared session.
func listTables(ctx context.Context, uri string, dbName string) ([]heartbeattypes.Table, error) {
	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("connect: %v", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `select table_name from information_schema.tables where table_catalog = $1 and table_schema = $2`, dbName, "public")
	if err != nil {
		return nil, fmt.Errorf("query tables: %v", err)
	}

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("scan table name: %v", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate tables: %v", rows.Err())
	}

	tables := make([]heartbeattypes.Table, 0, len(tableNames))
	for _, tableName := range tableNames {
		columns, err := listColumns(ctx, conn, tableName)
		if err != nil {
			return nil, fmt.Errorf("list columns for %s: %v", tableName, err)
		}

		tables = append(tables, heartbeattypes.Table{
			TableName: tableName,
			Columns:   columns,
		})
	}

	return tables, nil
}

func listColumns(ctx context.Context, conn *pgx.Conn, tableName string) ([]heartbeattypes.Column, error) {
	rows, err := conn.Query(ctx, `select column_name, data_type, is_nullable, column_default from information_schema.columns where table_name = $1`, tableName)
	if err != nil {
		return nil, err
	}

	var columns []heartbeattypes.Column
	for rows.Next() {
		var columnName, dataType, isNullable string
		var columnDefault *string
		if err := rows.Scan(&columnName, &dataType, &isNullable, &columnDefault); err != nil {
			return nil, err
		}

		columns = append(columns, heartbeattypes.Column{
			ColumnName:    columnName,
			DataType:      dataType,
			IsNullable:    isNullable == "YES",
			ColumnDefault: columnDefault,
		})
	}

	return columns, rows.Err()
}

func listPrimaryKeys(ctx context.Context, uri string) (map[string][]string, error) {
	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("connect: %v", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `
		select tc.table_name, kcu.column_name
		from information_schema.table_constraints tc
		join information_schema.key_column_usage kcu
			on tc.constraint_name = kcu.constraint_name
			and tc.table_schema = kcu.table_schema
		where tc.constraint_type = 'PRIMARY KEY' and tc.table_schema = $1`, "public")
	if err != nil {
		return nil, fmt.Errorf("query primary keys: %v", err)
	}

	primaryKeys := map[string][]string{}
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, fmt.Errorf("scan primary key: %v", err)
		}
		primaryKeys[tableName] = append(primaryKeys[tableName], columnName)
	}

	return primaryKeys, rows.Err()
}
