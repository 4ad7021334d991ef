package store

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnavailable marks every failure of a store call that is not a clean
// not-found result.
var ErrUnavailable = errors.New("store unavailable")

// Kind classifies a store failure.
type Kind int

const (
	KindQuery Kind = iota
	KindConnection
	KindTimeout
	KindAuthorization
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindAuthorization:
		return "authorization"
	case KindCanceled:
		return "canceled"
	default:
		return "query"
	}
}

// Classify inspects err and returns its Kind. Server-reported errors are
// classified by SQLSTATE class; anything else that happened before a
// response arrived is a connection failure.
func Classify(err error) Kind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "28"), pgErr.Code == "42501":
			return KindAuthorization
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "53300", // too_many_connections
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "57P03": // cannot_connect_now
			return KindConnection
		case pgErr.Code == "57014": // query_canceled
			return KindTimeout
		default:
			return KindQuery
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || netErr != nil ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		pgconn.SafeToRetry(err) {
		return KindConnection
	}

	return KindQuery
}

// IsTransient reports whether err is worth one more attempt: connection and
// timeout failures are, everything else is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case KindConnection, KindTimeout:
		return true
	default:
		return false
	}
}
