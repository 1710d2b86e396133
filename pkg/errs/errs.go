package errs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
	ErrNoUnitAssigned     = errors.New("no unit assigned")
	ErrNoCandidateUnits   = errors.New("no candidate units")
	ErrNoAvailableUnits   = errors.New("no available units")
	ErrRoutingUnavailable = errors.New("routing unavailable")
)

func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// WrapDB classifies a database error into one of the sentinels above so
// callers never have to import the driver.
func WrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case "23503", "23514":
			return fmt.Errorf("%s: %w", op, ErrInvalidInput)
		default:
			return fmt.Errorf("%s: pg error %s: %w", op, pqErr.Code, ErrInternal)
		}
	}
	return fmt.Errorf("%s: %v: %w", op, err, ErrInternal)
}

// IsSoftDispatchMiss reports whether err only means "nobody could be matched
// right now", which leaves the request pending instead of failing the call.
func IsSoftDispatchMiss(err error) bool {
	return errors.Is(err, ErrNoCandidateUnits) || errors.Is(err, ErrNoAvailableUnits)
}
