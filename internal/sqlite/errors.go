package sqlite

import (
	"errors"
	"fmt"

	ncsqlite "github.com/ncruces/go-sqlite3"
	mcsqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// statementError marks driver errors raised by the SQL text itself, such as
// a syntax error or an unknown column in a caller's selection, with
// types.ErrInvalidQuery. Other errors are returned unchanged.
func statementError(err error) error {
	if err == nil || !isLogicError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrInvalidQuery, err)
}

// isLogicError reports whether err carries the generic SQLITE_ERROR result
// code from either driver.
func isLogicError(err error) bool {
	var mc *mcsqlite.Error
	if errors.As(err, &mc) {
		return mc.Code()&0xff == sqlite3lib.SQLITE_ERROR
	}
	var nc *ncsqlite.Error
	if errors.As(err, &nc) {
		return nc.Code() == ncsqlite.ERROR
	}
	return false
}
