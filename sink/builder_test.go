package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertStatement(t *testing.T) {
	stmt, err := InsertStatement("SERVICE", []Column{
		{Name: "UUID", Value: "u1"},
		{Name: "NAME", Value: "svc"},
		{Name: "DESC", Value: ""},
	})
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO SERVICE(UUID,NAME) VALUES('u1','svc')", stmt.String())
	assert.Equal(t, "INSERT INTO SERVICE(UUID,NAME) VALUES($1,$2)", stmt.SQL)
	assert.Equal(t, []any{"u1", "svc"}, stmt.Args)
	assert.Equal(t, OpInsert, stmt.Op)
}

func TestUpdateStatement(t *testing.T) {
	stmt, err := UpdateStatement("SERVICE",
		[]Column{{Name: "NAME", Value: "new"}},
		[]Column{{Name: "UUID", Value: "u1"}},
	)
	require.NoError(t, err)

	assert.Equal(t, "UPDATE SERVICE SET NAME='new' WHERE UUID='u1'", stmt.String())
	assert.Equal(t, "UPDATE SERVICE SET NAME=$1 WHERE UUID=$2", stmt.SQL)
	assert.Equal(t, []any{"new", "u1"}, stmt.Args)
}

func TestUpdateStatementMultipleColumns(t *testing.T) {
	stmt, err := UpdateStatement("SERVICE",
		[]Column{{Name: "NAME", Value: "new"}, {Name: "DESC", Value: nil}, {Name: "PORT", Value: 8080}},
		[]Column{{Name: "UUID", Value: "u1"}, {Name: "ENV", Value: ""}, {Name: "ORG", Value: "o1"}},
	)
	require.NoError(t, err)

	assert.Equal(t, "UPDATE SERVICE SET NAME='new',PORT='8080' WHERE UUID='u1' AND ORG='o1'", stmt.String())
	assert.Equal(t, "UPDATE SERVICE SET NAME=$1,PORT=$2 WHERE UUID=$3 AND ORG=$4", stmt.SQL)
	assert.Equal(t, []any{"new", "8080", "u1", "o1"}, stmt.Args)
}

func TestDeleteStatement(t *testing.T) {
	stmt, err := DeleteStatement("SERVICE", []Column{{Name: "UUID", Value: "u1"}})
	require.NoError(t, err)

	assert.Equal(t, "DELETE FROM SERVICE WHERE UUID='u1'", stmt.String())
	assert.Equal(t, "DELETE FROM SERVICE WHERE UUID=$1", stmt.SQL)
	assert.Equal(t, []any{"u1"}, stmt.Args)
}

func TestStatementsRefuseEmptyLists(t *testing.T) {
	_, err := InsertStatement("SERVICE", []Column{{Name: "NAME", Value: ""}})
	assert.ErrorIs(t, err, ErrNoColumns)

	_, err = UpdateStatement("SERVICE", []Column{{Name: "NAME", Value: "x"}}, []Column{{Name: "UUID", Value: ""}})
	assert.ErrorIs(t, err, ErrUnscoped)

	_, err = UpdateStatement("SERVICE", []Column{{Name: "NAME", Value: nil}}, []Column{{Name: "UUID", Value: "u1"}})
	assert.ErrorIs(t, err, ErrNoColumns)

	_, err = DeleteStatement("SERVICE", []Column{{Name: "UUID", Value: nil}})
	assert.ErrorIs(t, err, ErrUnscoped)
}

func TestStringify(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "svc", Stringify("svc"))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "raw", Stringify([]byte("raw")))
	assert.Equal(t, "2024-05-01T10:00:00Z", Stringify(ts))
	assert.Equal(t, `["a","b"]`, Stringify([]any{"a", "b"}))
	assert.Equal(t, `{"k":1}`, Stringify(map[string]any{"k": 1}))
}
