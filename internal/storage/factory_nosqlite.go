//go:build !sqlite

package storage

import "errors"

var errSQLiteUnavailable = errors.New("sqlite store not compiled in; rebuild with -tags sqlite")

func newSQLiteStore(_ string) (Store, error) {
	return nil, errSQLiteUnavailable
}
