package repo

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"caseline/internal/db"
	"caseline/internal/domain"
)

// Repo runs queries against the database, or against a transaction when bound
// with WithTx.
type Repo struct {
	DB *sql.DB
	tx *sql.Tx
}

var ErrNotFound = domain.ErrNotFound

// WithTx returns a Repo whose queries run inside tx.
func (r Repo) WithTx(tx *sql.Tx) Repo {
	return Repo{DB: r.DB, tx: tx}
}

func (r Repo) conn() db.DBTX {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// classify maps sqlite constraint failures onto domain errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: projects.name"):
		return fmt.Errorf("%w: %v", domain.ErrDuplicateName, err)
	case strings.Contains(msg, "UNIQUE constraint failed: project_members"):
		return fmt.Errorf("%w: %v", domain.ErrDuplicateName, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", domain.ErrIntegrity, err)
	}
	return err
}

func rowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
