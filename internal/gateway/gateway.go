// Package gateway defines the client contract for the hosted backend: row
// queries, inserts, updates, atomic RPCs, the auth session, and the
// row-change feed. Two implementations exist: the REST/websocket client in
// this package and the in-process sqlite backend in localdev.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by CurrentUser when no session exists.
var ErrNotAuthenticated = errors.New("gateway: not authenticated")

// Row is a single record as delivered by the backend.
type Row map[string]any

// ID returns the row's id column as a string, or "" if absent.
func (r Row) ID() string {
	if v, ok := r["id"].(string); ok {
		return v
	}
	return ""
}

// String returns the named column as a string, or "" if absent or not a string.
func (r Row) String(col string) string {
	if v, ok := r[col].(string); ok {
		return v
	}
	return ""
}

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
)

// Cond is a single filter condition on a column.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Filter is a conjunction of conditions.
type Filter []Cond

// Eq builds a single-condition equality filter.
func Eq(column string, value any) Filter {
	return Filter{{Column: column, Op: OpEq, Value: value}}
}

// And appends a condition to the filter.
func (f Filter) And(column string, op Op, value any) Filter {
	return append(f, Cond{Column: column, Op: op, Value: value})
}

// Matches reports whether a row satisfies every condition. Values are
// compared by their string form, which is how the feed filters rows.
func (f Filter) Matches(row Row) bool {
	for _, c := range f {
		got := fmt.Sprint(row[c.Column])
		switch c.Op {
		case OpEq:
			if got != fmt.Sprint(c.Value) {
				return false
			}
		case OpNeq:
			if got == fmt.Sprint(c.Value) {
				return false
			}
		case OpIn:
			vals, ok := c.Value.([]string)
			if !ok {
				return false
			}
			found := false
			for _, v := range vals {
				if got == v {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// Query describes a Select: filter, ordering and row limit.
type Query struct {
	Filter     Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// ChangeType is the kind of a change-feed event.
type ChangeType int

const (
	ChangeInsert ChangeType = iota
	ChangeUpdate
	ChangeDelete
)

func (t ChangeType) String() string {
	switch t {
	case ChangeInsert:
		return "INSERT"
	case ChangeUpdate:
		return "UPDATE"
	case ChangeDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// ChangeEvent is a single row-change notification. New carries the row after
// the change (inserts and updates), Old the row before it (updates and
// deletes, possibly only the key columns). Delivery is at-least-once and
// unordered across rows.
type ChangeEvent struct {
	Type  ChangeType
	Table string
	New   Row
	Old   Row
}

// Subscription is a live change-feed channel. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Gateway is the remote data gateway contract.
type Gateway interface {
	// Select returns rows from a table.
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	// Insert appends a row and returns it as stored.
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update patches every row matching the filter and returns the results.
	Update(ctx context.Context, table string, f Filter, patch Row) ([]Row, error)
	// Call invokes a named remote procedure. Multi-row procedures are atomic:
	// either every row they create exists afterwards, or none does.
	Call(ctx context.Context, fn string, args map[string]any) (Row, error)
	// Subscribe delivers change events for a table, optionally filtered,
	// until Unsubscribe is called. The handler runs on the feed's goroutine.
	Subscribe(ctx context.Context, table string, f Filter, h func(ChangeEvent)) (Subscription, error)
	// CurrentUser returns the authenticated user's row, or
	// ErrNotAuthenticated when there is no session.
	CurrentUser(ctx context.Context) (Row, error)
}
