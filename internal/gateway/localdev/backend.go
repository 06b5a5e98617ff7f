// Package localdev is an in-process implementation of the gateway contract
// backed by SQLite. It serves --local development runs and the test suite,
// synthesizing change-feed events from its own writes the way the hosted
// backend does from row changes.
package localdev

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/gmfranca/zapboard/internal/gateway"
	"github.com/gmfranca/zapboard/internal/gateway/localdev/migrations"
)

var tables = map[string]bool{
	"users":             true,
	"chats":             true,
	"messages":          true,
	"tags":              true,
	"chat_participants": true,
	"chat_tags":         true,
}

// Columns stored as INTEGER but exposed as booleans in rows.
var boolColumns = map[string]bool{
	"is_group": true,
	"is_read":  true,
	"is_admin": true,
}

// Backend is a sqlite-backed gateway.
type Backend struct {
	db     *sql.DB
	logger *zap.Logger

	mu          sync.Mutex
	sessionUser string
	subs        map[int]*subscription
	nextID      int
}

type subscription struct {
	backend *Backend
	id      int
	table   string
	filter  gateway.Filter
	handler func(gateway.ChangeEvent)
}

// Open creates the backend database with WAL mode and runs migrations.
func Open(path string, logger *zap.Logger) (*Backend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	b := &Backend{
		db:     db,
		logger: logger,
		subs:   make(map[int]*subscription),
	}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) migrate() error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(b.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// SetSessionUser sets the user returned by CurrentUser. The hosted backend
// derives this from the auth token; locally it is configured directly.
func (b *Backend) SetSessionUser(id string) {
	b.mu.Lock()
	b.sessionUser = id
	b.mu.Unlock()
}

// ActiveSubscriptions returns the number of live feed subscriptions.
func (b *Backend) ActiveSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// CurrentUser implements gateway.Gateway.
func (b *Backend) CurrentUser(ctx context.Context) (gateway.Row, error) {
	b.mu.Lock()
	userID := b.sessionUser
	b.mu.Unlock()
	if userID == "" {
		return nil, gateway.ErrNotAuthenticated
	}
	rows, err := b.Select(ctx, "users", gateway.Query{Filter: gateway.Eq("id", userID)})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gateway.ErrNotAuthenticated
	}
	return rows[0], nil
}

// Select implements gateway.Gateway.
func (b *Backend) Select(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	if !tables[table] {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	query := "SELECT * FROM " + table
	where, args := buildWhere(q.Filter)
	query += where
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		query += " ORDER BY " + q.OrderBy + " " + dir
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// Insert implements gateway.Gateway. Missing id and timestamp columns are
// filled in, matching the hosted backend's column defaults.
func (b *Backend) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	if !tables[table] {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	stored := gateway.Row{}
	for k, v := range row {
		stored[k] = v
	}
	if stored.ID() == "" {
		stored["id"] = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	fillTimestamps(table, stored, now)

	cols := make([]string, 0, len(stored))
	for col := range stored {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = toSQL(stored[col])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	inserted, err := b.rowByID(ctx, table, stored.ID())
	if err != nil {
		return nil, err
	}
	b.emit(gateway.ChangeEvent{Type: gateway.ChangeInsert, Table: table, New: inserted})
	return inserted, nil
}

// Update implements gateway.Gateway.
func (b *Backend) Update(ctx context.Context, table string, f gateway.Filter, patch gateway.Row) ([]gateway.Row, error) {
	if !tables[table] {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("update %s: empty patch", table)
	}

	// Resolve the target ids first so the result set is stable even when the
	// patch changes filtered columns.
	matched, err := b.Select(ctx, table, gateway.Query{Filter: f})
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}

	cols := make([]string, 0, len(patch))
	for col := range patch {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(matched))
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, toSQL(patch[col]))
	}

	ids := make([]string, len(matched))
	marks := make([]string, len(matched))
	for i, row := range matched {
		ids[i] = row.ID()
		marks[i] = "?"
		args = append(args, row.ID())
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id IN (%s)",
		table, strings.Join(sets, ", "), strings.Join(marks, ", "))
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}

	updated := make([]gateway.Row, 0, len(ids))
	for _, id := range ids {
		row, err := b.rowByID(ctx, table, id)
		if err != nil {
			return nil, err
		}
		updated = append(updated, row)
		b.emit(gateway.ChangeEvent{Type: gateway.ChangeUpdate, Table: table, New: row, Old: gateway.Row{"id": id}})
	}
	return updated, nil
}

// Delete removes matching rows and emits DELETE feed events. The hosted
// gateway exposes deletes only through the feed, so this is not part of the
// Gateway interface; it exists for local administration and tests.
func (b *Backend) Delete(ctx context.Context, table string, f gateway.Filter) error {
	if !tables[table] {
		return fmt.Errorf("unknown table %q", table)
	}
	matched, err := b.Select(ctx, table, gateway.Query{Filter: f})
	if err != nil {
		return err
	}
	for _, row := range matched {
		if _, err := b.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", row.ID()); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
		b.emit(gateway.ChangeEvent{Type: gateway.ChangeDelete, Table: table, Old: row})
	}
	return nil
}

// Call implements gateway.Gateway. create_chat_with_participants creates the
// chat, its participant links and its tag links in one transaction.
func (b *Backend) Call(ctx context.Context, fn string, args map[string]any) (gateway.Row, error) {
	if fn != "create_chat_with_participants" {
		return nil, fmt.Errorf("unknown function %q", fn)
	}

	name, _ := args["chat_name"].(string)
	isGroup := false
	if v, ok := args["is_group"].(bool); ok {
		isGroup = v
	}
	participantIDs := toStrings(args["participant_ids"])
	tagIDs := toStrings(args["tag_ids"])
	if len(participantIDs) == 0 {
		return nil, fmt.Errorf("create chat: no participants")
	}

	chatID := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, name, is_group, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		chatID, name, isGroup, now, now); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	for _, userID := range participantIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_participants (id, chat_id, user_id, joined_at)
			VALUES (?, ?, ?, ?)`,
			uuid.New().String(), chatID, userID, now); err != nil {
			return nil, fmt.Errorf("create chat: participant %s: %w", userID, err)
		}
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_tags (id, chat_id, tag_id, created_at)
			VALUES (?, ?, ?, ?)`,
			uuid.New().String(), chatID, tagID, now); err != nil {
			return nil, fmt.Errorf("create chat: tag %s: %w", tagID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	chat, err := b.rowByID(ctx, "chats", chatID)
	if err != nil {
		return nil, err
	}
	b.emit(gateway.ChangeEvent{Type: gateway.ChangeInsert, Table: "chats", New: chat})
	return chat, nil
}

// Subscribe implements gateway.Gateway. Handlers run synchronously on the
// writing goroutine after the write commits.
func (b *Backend) Subscribe(_ context.Context, table string, f gateway.Filter, h func(gateway.ChangeEvent)) (gateway.Subscription, error) {
	if !tables[table] {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscription{backend: b, id: id, table: table, filter: f, handler: h}
	b.subs[id] = sub
	b.mu.Unlock()
	return sub, nil
}

func (s *subscription) Unsubscribe() {
	s.backend.mu.Lock()
	delete(s.backend.subs, s.id)
	s.backend.mu.Unlock()
}

func (b *Backend) emit(evt gateway.ChangeEvent) {
	keyRow := evt.New
	if evt.Type == gateway.ChangeDelete {
		keyRow = evt.Old
	}

	b.mu.Lock()
	var targets []*subscription
	for _, sub := range b.subs {
		if sub.table != evt.Table {
			continue
		}
		if len(sub.filter) > 0 && !sub.filter.Matches(keyRow) {
			continue
		}
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.handler(evt)
	}
}

func (b *Backend) rowByID(ctx context.Context, table, id string) (gateway.Row, error) {
	rows, err := b.Select(ctx, table, gateway.Query{Filter: gateway.Eq("id", id)})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %q not found", table, id)
	}
	return rows[0], nil
}

func buildWhere(f gateway.Filter) (string, []any) {
	if len(f) == 0 {
		return "", nil
	}
	var conds []string
	var args []any
	for _, c := range f {
		switch c.Op {
		case gateway.OpEq:
			conds = append(conds, c.Column+" = ?")
			args = append(args, toSQL(c.Value))
		case gateway.OpNeq:
			conds = append(conds, c.Column+" != ?")
			args = append(args, toSQL(c.Value))
		case gateway.OpIn:
			vals := toStrings(c.Value)
			if len(vals) == 0 {
				conds = append(conds, "1 = 0")
				continue
			}
			marks := make([]string, len(vals))
			for i, v := range vals {
				marks[i] = "?"
				args = append(args, v)
			}
			conds = append(conds, c.Column+" IN ("+strings.Join(marks, ", ")+")")
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRows(rows *sql.Rows) ([]gateway.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []gateway.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := gateway.Row{}
		for i, col := range cols {
			row[col] = fromSQL(col, vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func fillTimestamps(table string, row gateway.Row, now string) {
	timeCols := []string{"created_at"}
	switch table {
	case "users", "chats":
		timeCols = append(timeCols, "updated_at")
	case "chat_participants":
		timeCols = []string{"joined_at"}
	}
	for _, col := range timeCols {
		if _, ok := row[col]; !ok {
			row[col] = now
		}
	}
}

func toSQL(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func fromSQL(col string, v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int64:
		if boolColumns[col] {
			return x != 0
		}
		return x
	}
	return v
}

func toStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
