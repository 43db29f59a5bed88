package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/dockyard/internal/fault"
	"gorm.io/gorm"
)

// Classify maps a storage error onto the fault taxonomy. Connectivity and
// timeout failures become Unavailable (retryable); gorm's not-found becomes
// NotFound; anything else is Internal. A nil err stays nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fault.NotFound(op, "record not found")
	}
	if isUnavailable(err) {
		return fault.Unavailable(op, err)
	}
	return fault.Internal(op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, 1053, 1205, 2002, 2003, 2006, 2013: // too many conns, shutdown, lock wait, gone away
			return true
		}
	}
	return false
}
