package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlStateUniqueViolation       = "23505"
	sqlStateForeignKeyViolation   = "23503"
	sqlStateInsufficientPrivilege = "42501"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasSQLState(err, sqlStateUniqueViolation)
}

// IsForeignKeyViolation reports whether err is a foreign key violation. Under
// row-level security a parent owned by another tenant is invisible, and the
// child insert fails this way or through the policy check.
func IsForeignKeyViolation(err error) bool {
	return hasSQLState(err, sqlStateForeignKeyViolation)
}

// IsPolicyViolation reports whether err was raised by a row policy WITH
// CHECK or a missing privilege.
func IsPolicyViolation(err error) bool {
	return hasSQLState(err, sqlStateInsufficientPrivilege)
}

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
