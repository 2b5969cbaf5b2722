// Package db is a trimmed adaptation of go-algorand's util/db accessor: a
// database/sql wrapper over github.com/mattn/go-sqlite3 used here to back
// the durable publish queue of spec.md §4.B / §6 ("publishqueue(ledger
// INTEGER PRIMARY KEY, state TEXT)").
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jpelaezClub/stellar-core/internal/logging"
)

// busy is how long sqlite will wait for a lock from another process before
// returning SQLITE_BUSY, in milliseconds.
const busy = 1000

// Accessor manages one sqlite database handle.
type Accessor struct {
	Handle   *sql.DB
	readOnly bool
}

// URI builds the sqlite DSN used by both the read and write accessors.
func URI(filename string, readOnly, memory bool) string {
	uri := fmt.Sprintf("file:%s?_busy_timeout=%d&_synchronous=full", filename, busy)
	if !readOnly {
		uri += "&_txlock=immediate"
	}
	if memory {
		uri += "&mode=memory&cache=shared"
	}
	return uri
}

// MakeAccessor opens a sqlite database in WAL mode.
func MakeAccessor(filename string, readOnly, memory bool) (Accessor, error) {
	a := Accessor{readOnly: readOnly}
	var err error
	a.Handle, err = sql.Open("sqlite3", URI(filename, readOnly, memory)+"&_journal_mode=wal")
	return a, err
}

// Close closes the underlying handle.
func (a Accessor) Close() {
	if a.Handle != nil {
		a.Handle.Close()
	}
}

// Pair bundles a read and a write accessor over the same database file, the
// same split the teacher uses to let long read queries proceed without
// blocking on the write connection's transaction.
type Pair struct {
	Rdb Accessor
	Wdb Accessor
}

// OpenPair opens filename with both a read-only and a read-write accessor.
func OpenPair(filename string, memory bool) (p Pair, err error) {
	p.Rdb, err = MakeAccessor(filename, true, memory)
	if err != nil {
		return
	}
	p.Wdb, err = MakeAccessor(filename, false, memory)
	if err != nil {
		p.Rdb.Close()
		return
	}
	return
}

// Close closes both accessors.
func (p Pair) Close() {
	p.Rdb.Close()
	p.Wdb.Close()
}

type idemFn func(ctx context.Context, tx *sql.Tx) error

// Atomic runs fn inside a transaction, retrying on sqlite lock/busy errors
// and rolling back on any other error. description is used only for the
// slow-transaction warning log.
func (a Accessor) Atomic(ctx context.Context, description string, fn idemFn) (err error) {
	start := time.Now()
	defer func() {
		if d := time.Since(start); d > time.Second {
			logging.Base().With("description", description).Warnf("db.Atomic: tx took %v", d)
		}
	}()

	return Retry(func() error {
		tx, err := a.Handle.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Retry runs fn repeatedly while it returns a sqlite lock/busy error.
func Retry(fn func() error) (err error) {
	for i := 0; ; i++ {
		err = fn()
		if !isRetryable(err) {
			return err
		}
		if i > 50 {
			return err
		}
		time.Sleep(time.Duration(i+1) * time.Millisecond)
	}
}

func isRetryable(err error) bool {
	sqlErr, ok := err.(sqlite3.Error)
	return ok && (sqlErr.Code == sqlite3.ErrLocked || sqlErr.Code == sqlite3.ErrBusy)
}
