package database

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
)

// Classify maps a database error onto an error kind. Errors that already
// carry a kind keep it.
func Classify(err error) apperrors.Kind {
	if err == nil {
		return apperrors.KindUnknown
	}
	if k := apperrors.KindOf(err); k != apperrors.KindUnknown {
		return k
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.KindUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	if pgconn.Timeout(err) {
		return apperrors.KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperrors.KindTimeout
		}
		return apperrors.KindConnectionLost
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return apperrors.KindConnectionLost
	}

	return classifyMessage(strings.ToLower(err.Error()))
}

// classifySQLState maps SQLSTATE codes (Appendix A of the Postgres manual).
func classifySQLState(code string) apperrors.Kind {
	switch code {
	case "57014": // query_canceled, raised by statement_timeout
		return apperrors.KindTimeout
	case "53300": // too_many_connections
		return apperrors.KindPoolExhausted
	case "57P01", "57P02", "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
		return apperrors.KindConnectionLost
	case "40001", "40P01": // serialization_failure, deadlock_detected: transient
		return apperrors.KindConnectionLost
	case "42P01", "42703", "3F000", "42P02": // undefined table/column/schema/parameter
		return apperrors.KindMissingRelation
	case "42501", "25006": // insufficient_privilege, read_only_sql_transaction
		return apperrors.KindPermissionDenied
	}

	switch {
	case strings.HasPrefix(code, "08"):
		return apperrors.KindConnectionLost
	case strings.HasPrefix(code, "42"), strings.HasPrefix(code, "22"):
		return apperrors.KindSyntaxError
	}
	return apperrors.KindUnknown
}

func classifyMessage(msg string) apperrors.Kind {
	switch {
	case strings.Contains(msg, "too many connections"), strings.Contains(msg, "pool exhausted"):
		return apperrors.KindPoolExhausted
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"), strings.Contains(msg, "conn closed"),
		strings.Contains(msg, "closed pool"), strings.Contains(msg, "unexpected eof"):
		return apperrors.KindConnectionLost
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return apperrors.KindTimeout
	case strings.Contains(msg, "permission denied"):
		return apperrors.KindPermissionDenied
	case strings.Contains(msg, "does not exist"):
		return apperrors.KindMissingRelation
	case strings.Contains(msg, "syntax error"):
		return apperrors.KindSyntaxError
	}
	return apperrors.KindUnknown
}

// classified wraps err with its kind unless it already has one.
func classified(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.Wrap(Classify(err), "", err)
}
