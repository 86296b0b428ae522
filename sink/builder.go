package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	ErrNoColumns = errors.New("statement has no columns")

	// ErrUnscoped is returned for an UPDATE or DELETE without a condition.
	ErrUnscoped = errors.New("statement has no condition")
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Column is one column/value pair. Order is significant.
type Column struct {
	Name  string
	Value any
}

// Statement is a built destination statement. SQL and Args are what gets
// executed; String renders the same statement with values inlined, for logs.
type Statement struct {
	Op    Op
	Table string
	SQL   string
	Args  []any

	literal string
}

func (s Statement) String() string {
	return s.literal
}

// InsertStatement builds INSERT INTO <table>(<cols>) VALUES(<vals>).
func InsertStatement(table string, cols []Column) (Statement, error) {
	cols = compact(cols)
	if len(cols) == 0 {
		return Statement{}, fmt.Errorf("insert into %s: %w", table, ErrNoColumns)
	}

	var (
		names    = make([]string, len(cols))
		params   = make([]string, len(cols))
		literals = make([]string, len(cols))
		args     = make([]any, len(cols))
	)
	for i, c := range cols {
		v := Stringify(c.Value)
		names[i] = c.Name
		params[i] = fmt.Sprintf("$%d", i+1)
		literals[i] = quote(v)
		args[i] = v
	}

	return Statement{
		Op:      OpInsert,
		Table:   table,
		SQL:     fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", table, strings.Join(names, ","), strings.Join(params, ",")),
		Args:    args,
		literal: fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", table, strings.Join(names, ","), strings.Join(literals, ",")),
	}, nil
}

// UpdateStatement builds UPDATE <table> SET <set> WHERE <where>.
func UpdateStatement(table string, set, where []Column) (Statement, error) {
	set, where = compact(set), compact(where)
	if len(set) == 0 {
		return Statement{}, fmt.Errorf("update %s: %w", table, ErrNoColumns)
	}
	if len(where) == 0 {
		return Statement{}, fmt.Errorf("update %s: %w", table, ErrUnscoped)
	}

	var args []any
	setSQL, setLit := assignments(set, &args)
	whereSQL, whereLit := assignments(where, &args)

	return Statement{
		Op:      OpUpdate,
		Table:   table,
		SQL:     fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(setSQL, ","), strings.Join(whereSQL, " AND ")),
		Args:    args,
		literal: fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(setLit, ","), strings.Join(whereLit, " AND ")),
	}, nil
}

// DeleteStatement builds DELETE FROM <table> WHERE <where>.
func DeleteStatement(table string, where []Column) (Statement, error) {
	where = compact(where)
	if len(where) == 0 {
		return Statement{}, fmt.Errorf("delete from %s: %w", table, ErrUnscoped)
	}

	var args []any
	whereSQL, whereLit := assignments(where, &args)

	return Statement{
		Op:      OpDelete,
		Table:   table,
		SQL:     fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(whereSQL, " AND ")),
		Args:    args,
		literal: fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(whereLit, " AND ")),
	}, nil
}

// assignments renders col=$n and col='v' pairs, appending values to args so
// placeholders keep numbering across clauses.
func assignments(cols []Column, args *[]any) (params, literals []string) {
	for _, c := range cols {
		v := Stringify(c.Value)
		*args = append(*args, v)
		params = append(params, fmt.Sprintf("%s=$%d", c.Name, len(*args)))
		literals = append(literals, fmt.Sprintf("%s=%s", c.Name, quote(v)))
	}
	return params, literals
}

// compact drops columns whose value is null or stringifies to "".
func compact(cols []Column) []Column {
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		if c.Name == "" || isNull(c.Value) || Stringify(c.Value) == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func quote(v string) string {
	return "'" + v + "'"
}

// Stringify renders a document value as column text.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}
