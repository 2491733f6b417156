package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"chat_messages":          "Chat history",
	"group_members":          "Membership and roles",
	"problems":               "Problem titles",
	"group_progress":         "Solved problems per group",
	"group_progress_solvers": "Solvers per problem",
	"schema_migrations":      "Migration tracking",
}

var requiredColumns = map[string]map[string]string{
	"chat_messages": {
		"seq":        "INTEGER",
		"id":         "TEXT",
		"group_id":   "TEXT",
		"session_id": "TEXT",
		"user_id":    "TEXT",
		"username":   "TEXT",
		"text":       "TEXT",
		"type":       "TEXT",
		"created_at": "DATETIME",
	},
	"group_members": {
		"group_id":    "TEXT",
		"user_id":     "TEXT",
		"role":        "TEXT",
		"last_active": "DATETIME",
	},
	"problems": {
		"id":    "TEXT",
		"title": "TEXT",
	},
	"group_progress": {
		"group_id":     "TEXT",
		"problem_id":   "TEXT",
		"completed_at": "DATETIME",
	},
	"group_progress_solvers": {
		"group_id":   "TEXT",
		"problem_id": "TEXT",
		"user_id":    "TEXT",
		"solved_at":  "DATETIME",
	},
}

var requiredIndexes = map[string]string{
	"idx_chat_messages_session":       "Session history retrieval",
	"idx_group_members_user":          "Membership by user",
	"idx_group_progress_solvers_user": "Progress by user",
}

// Validate runs every structural check
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(ctx); err != nil {
		return err
	}
	return v.ValidateIndexes(ctx)
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for _, table := range sortedKeys(requiredTables) {
		exists, err := v.objectExists(ctx, "table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, requiredTables[table], err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, requiredTables[table])
		}
	}
	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	for _, table := range sortedKeys(requiredColumns) {
		if err := v.validateColumns(ctx, table, requiredColumns[table]); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for _, index := range sortedKeys(requiredIndexes) {
		exists, err := v.objectExists(ctx, "index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, requiredIndexes[index], err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, requiredIndexes[index])
		}
	}
	return nil
}

// ValidateConstraints verifies that the database rejects invalid rows. Probes
// run inside a transaction that is always rolled back.
// ARCHITECTURAL DISCOVERY: Constraint validation ensures data integrity rules
// are enforced at the database level
func (v *SchemaValidator) ValidateConstraints(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin constraint probe: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_progress_solvers (group_id, problem_id, user_id, solved_at)
		VALUES ('probe-group', 'probe-problem', 'probe-user', CURRENT_TIMESTAMP)
	`); err == nil {
		return errors.New("foreign key constraint not enforced: group_progress_solvers -> group_progress")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, group_id, session_id, user_id, username, text, type, created_at)
		VALUES ('probe', 'g', 's', 'u', 'n', 't', 'invalid_type', CURRENT_TIMESTAMP)
	`); err == nil {
		return errors.New("check constraint not enforced: chat message type")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role) VALUES ('g', 'u', 'owner')
	`); err == nil {
		return errors.New("check constraint not enforced: member role")
	}

	return nil
}

func (v *SchemaValidator) objectExists(ctx context.Context, kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(ctx context.Context, tableName string, expected map[string]string) error {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range sortedKeys(expected) {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != expected[col] {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, expected[col])
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
