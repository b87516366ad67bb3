package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/programmerrush/InsightDB-api/internal/errs"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
// connecting marks errors raised while establishing the session, which are
// always connection failures unless they are timeouts.
func mapError(err error, msg string, connecting bool) *errs.Error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(classifySQLState(pgErr.Code, connecting), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	if connecting {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	// Client-side failures such as argument encoding.
	return errs.Wrap(errs.ErrKindExecutionFailed, fmt.Sprintf("%s: %s", msg, err.Error()), err)
}

// classifySQLState maps a SQLSTATE code to an ErrKind.
// Class 08 is connection exceptions, class 28 is invalid authorization,
// 3D000 is an unknown database and 42601 is a syntax error.
func classifySQLState(code string, connecting bool) errs.ErrKind {
	if len(code) >= 2 {
		switch code[:2] {
		case "08", "28":
			return errs.ErrKindConnectionFailed
		case "57":
			if code == "57014" {
				return errs.ErrKindTimeout
			}
		}
	}
	if code == "3D000" || connecting {
		return errs.ErrKindConnectionFailed
	}
	if code == "42601" {
		return errs.ErrKindSyntax
	}
	return errs.ErrKindExecutionFailed
}
