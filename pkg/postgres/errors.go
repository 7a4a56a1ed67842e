package postgres

import (
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/pkg/errors"
)

// NotFoundError reports a lookup of an unknown statement or portal name.
// It never terminates the connection.
type NotFoundError struct {
	Kind string // "statement" or "portal"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q does not exist", e.Kind, e.Name)
}

// EncodingError reports a value or format code that cannot be represented
// in the requested wire format. It fails the statement, not the connection.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return e.Reason
}

// ProtocolViolationError reports a client message invalid for the current
// protocol phase.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return e.Reason
}

// UnsupportedError reports a protocol feature this proxy does not implement.
// Unlike a protocol violation it is not a connection-class error; clients
// retry or degrade on 0A000 but tear the connection down on 08-class codes.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return e.Feature + " is not supported"
}

func statementNotFound(name string) error {
	return &NotFoundError{Kind: "prepared statement", Name: name}
}

func portalNotFound(name string) error {
	return &NotFoundError{Kind: "portal", Name: name}
}

func encodingErrorf(format string, args ...interface{}) error {
	return &EncodingError{Reason: fmt.Sprintf(format, args...)}
}

func protocolViolationf(format string, args ...interface{}) error {
	return &ProtocolViolationError{Reason: fmt.Sprintf(format, args...)}
}

func unsupported(feature string) error {
	return &UnsupportedError{Feature: feature}
}

// errorResponse maps an error to the wire ErrorResponse. Upstream errors
// keep their original SQLSTATE and detail fields; local errors get a
// best-effort code.
func errorResponse(err error) *pgproto3.ErrorResponse {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &pgproto3.ErrorResponse{
			Severity:         pgErr.Severity,
			Code:             pgErr.Code,
			Message:          pgErr.Message,
			Detail:           pgErr.Detail,
			Hint:             pgErr.Hint,
			Position:         pgErr.Position,
			InternalPosition: pgErr.InternalPosition,
			InternalQuery:    pgErr.InternalQuery,
			Where:            pgErr.Where,
			SchemaName:       pgErr.SchemaName,
			TableName:        pgErr.TableName,
			ColumnName:       pgErr.ColumnName,
			DataTypeName:     pgErr.DataTypeName,
			ConstraintName:   pgErr.ConstraintName,
			File:             pgErr.File,
			Line:             pgErr.Line,
			Routine:          pgErr.Routine,
		}
	}

	code := pgerrcode.InternalError

	var notFound *NotFoundError
	var encoding *EncodingError
	var violation *ProtocolViolationError
	var unsupported *UnsupportedError
	switch {
	case errors.As(err, &notFound):
		if notFound.Kind == "portal" {
			code = pgerrcode.InvalidCursorName
		} else {
			code = pgerrcode.InvalidSQLStatementName
		}
	case errors.As(err, &encoding):
		code = pgerrcode.InvalidBinaryRepresentation
	case errors.As(err, &violation):
		code = pgerrcode.ProtocolViolation
	case errors.As(err, &unsupported):
		code = pgerrcode.FeatureNotSupported
	}

	return &pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     code,
		Message:  err.Error(),
	}
}
