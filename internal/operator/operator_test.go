package operator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuiltinEval(t *testing.T) {
	ts := func(s string) time.Time {
		v, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return v
	}

	cases := []struct {
		op   string
		lhs  any
		rhs  any
		want bool
	}{
		{"eq", int64(3), int64(3), true},
		{"eq", int64(3), float64(3), true},
		{"eq", "a", "a", true},
		{"eq", "a", "b", false},
		{"ne", int64(3), int64(4), true},
		{"ne", nil, int64(4), false},
		{"gt", float64(2.5), int64(2), true},
		{"ge", int64(18), int64(18), true},
		{"lt", "alice", "bob", true},
		{"le", ts("2024-01-01T00:00:00Z"), ts("2024-06-01T00:00:00Z"), true},
		{"gt", time.Hour, 30 * time.Minute, true},
		{"eq", true, true, true},
		{"lt", false, true, true},
		{"in", int64(2), []any{int64(1), int64(2)}, true},
		{"in", int64(5), []any{int64(1), int64(2)}, false},
		{"not_in", int64(5), []any{int64(1), int64(2)}, true},
		{"like", "hello world", "hello%", true},
		{"like", "hello world", "h_llo world", true},
		{"like", "hello", "HELLO", false},
		{"ilike", "hello", "HELLO", true},
		{"not_like", "hello", "bye%", true},
		{"is_null", nil, nil, true},
		{"is_null", int64(1), nil, false},
		{"is_not_null", int64(1), nil, true},
	}
	reg := NewRegistry()
	for _, tc := range cases {
		b, ok := reg.Lookup(tc.op)
		require.True(t, ok, "operator %q not registered", tc.op)
		got, err := b.Eval(tc.lhs, tc.rhs)
		require.NoError(t, err, "%s(%v, %v)", tc.op, tc.lhs, tc.rhs)
		require.Equal(t, tc.want, got, "%s(%v, %v)", tc.op, tc.lhs, tc.rhs)
	}
}

func TestNullOperandsNeverMatch(t *testing.T) {
	reg := NewRegistry()
	for _, op := range []string{"eq", "ne", "gt", "ge", "lt", "le"} {
		b, _ := reg.Lookup(op)
		got, err := b.Eval(nil, int64(1))
		require.NoError(t, err)
		require.False(t, got, "%s with null lhs", op)
	}
}

func TestAliases(t *testing.T) {
	reg := NewRegistry()
	aliases := map[string]string{
		"==": "eq", "equals": "eq", "equal_to": "eq",
		"!=": "ne", "neq": "ne", "does_not_equal": "ne",
		">": "gt", ">=": "ge", "gte": "ge",
		"<": "lt", "<=": "le", "lte": "le",
	}
	for alias, canon := range aliases {
		a, ok := reg.Lookup(alias)
		require.True(t, ok, "alias %q not registered", alias)
		c, _ := reg.Lookup(canon)
		require.Equal(t, c.SQL, a.SQL, "alias %q should share %q's SQL", alias, canon)
	}
}

func TestRegisterOverwrites(t *testing.T) {
	reg := NewRegistry()
	reg.Register("eq", Behavior{Kind: Binary, SQL: "%s = %s",
		Eval: func(lhs, rhs any) (bool, error) { return true, nil }})
	b, ok := reg.Lookup("eq")
	require.True(t, ok)
	got, err := b.Eval(int64(1), int64(2))
	require.NoError(t, err)
	require.True(t, got, "custom behavior should replace the built-in")

	// A fresh registry still carries the built-in.
	fresh, _ := NewRegistry().Lookup("eq")
	got, err = fresh.Eval(int64(1), int64(2))
	require.NoError(t, err)
	require.False(t, got)
}

func TestCompareErrors(t *testing.T) {
	_, err := Compare("a", int64(1))
	require.Error(t, err)
	_, err = Compare(struct{}{}, struct{}{})
	require.Error(t, err)
}
