// Package store holds what the SQL-backed principal repositories and
// audit logs share: column mapping, the bulk upsert shape, and the
// predicates that must read the same in every dialect.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goGate/principal"
)

// ErrConflict is returned when a unique alias (username, mobile number) is
// already held by another principal.
var ErrConflict = errors.New("value already used by another principal")

// Columns lists every principal column after id, in schema order. Column
// names equal the principal.Field constants.
var Columns = []string{
	principal.FieldKind,
	principal.FieldEnabled,
	principal.FieldPasswordHash,
	principal.FieldUsername,
	principal.FieldMobileNo,
	principal.FieldEmail,
	principal.FieldFirstName,
	principal.FieldLastName,
	principal.FieldUserImage,
	principal.FieldRestrictIP,
	principal.FieldLoginBefore,
	principal.FieldLoginAfter,
	principal.FieldSimultaneousSessions,
	principal.FieldOTPSecret,
	principal.FieldLastLogin,
	principal.FieldLastIP,
}

// uniqueColumns are stored as NULL when empty so that many principals may
// lack them.
var uniqueColumns = map[string]struct{}{
	principal.FieldUsername: {},
	principal.FieldMobileNo: {},
}

// Column validates field for interpolation into SQL.
func Column(field string) (string, error) {
	if !principal.KnownField(field) {
		return "", fmt.Errorf("%w: %s", principal.ErrUnknownField, field)
	}
	return field, nil
}

// ColumnList validates fields and joins them for a SELECT. Unique alias
// columns are wrapped so NULL reads back as "".
func ColumnList(fields []string) (string, error) {
	cols := make([]string, len(fields))
	for i, f := range fields {
		c, err := Column(f)
		if err != nil {
			return "", err
		}
		cols[i] = "COALESCE(" + c + ", '')"
	}
	return strings.Join(cols, ", "), nil
}

// Nullable reports whether an empty value for field is written as NULL.
func Nullable(field string) bool {
	_, ok := uniqueColumns[field]
	return ok
}

// Value converts a field value for binding, mapping empty unique aliases
// to nil.
func Value(field, value string) any {
	if value == "" && Nullable(field) {
		return nil
	}
	return value
}

// Row orders f by Columns for an insert. Missing fields bind as "".
func Row(f principal.Fields) []any {
	out := make([]any, len(Columns))
	for i, c := range Columns {
		out[i] = Value(c, f[c])
	}
	return out
}

// SystemUserPredicate selects enabled system users other than
// Administrator, matching principal.ParseKind and principal.ParseBool.
const SystemUserPredicate = `id <> 'Administrator'
	AND lower(trim(kind)) IN ('system user', 'system_user', 'system')
	AND lower(trim(enabled)) IN ('1', 'true', 'yes', 'y', 'on')`
