package stack

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HistoryRecord is one stored allocation result. Identity and timestamp are
// assigned at save time; the allocator itself never reads this store.
type HistoryRecord struct {
	ID          string       `json:"id"`
	ProjectName string       `json:"project_name"`
	TDC         float64      `json:"tdc"`
	WACC        float64      `json:"wacc"`
	Stack       CapitalStack `json:"stack"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Repository persists allocation results to the history database.
// The table is append-only: records are inserted and pruned, never updated.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new history repository and ensures its schema.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		db:  db,
		log: log.With().Str("repo", "stack_history").Logger(),
	}
	if err := r.ensureSchema(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) ensureSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS capital_stacks (
			id TEXT PRIMARY KEY,
			project_name TEXT NOT NULL,
			tdc REAL NOT NULL,
			wacc REAL NOT NULL,
			stack_json TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_capital_stacks_created_at
			ON capital_stacks(created_at DESC);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to ensure capital_stacks schema: %w", err)
	}
	return nil
}

// Save stores a completed stack and returns the record with its assigned
// identity and timestamp.
func (r *Repository) Save(stack *CapitalStack) (*HistoryRecord, error) {
	stackJSON, err := json.Marshal(stack)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stack: %w", err)
	}

	record := &HistoryRecord{
		ID:          uuid.New().String(),
		ProjectName: stack.ProjectName,
		TDC:         stack.TDC,
		WACC:        stack.WACC,
		Stack:       *stack,
		CreatedAt:   time.Now().UTC(),
	}

	query := `
		INSERT INTO capital_stacks (id, project_name, tdc, wacc, stack_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query,
		record.ID,
		record.ProjectName,
		record.TDC,
		record.WACC,
		string(stackJSON),
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert capital stack: %w", err)
	}

	r.log.Debug().
		Str("id", record.ID).
		Str("project", record.ProjectName).
		Msg("Stored capital stack")

	return record, nil
}

// ListRecent returns up to limit stored stacks, most recent first.
func (r *Repository) ListRecent(limit int) ([]HistoryRecord, error) {
	query := `
		SELECT id, project_name, tdc, wacc, stack_json, created_at
		FROM capital_stacks
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query capital stacks: %w", err)
	}
	defer rows.Close()

	records := make([]HistoryRecord, 0, limit)
	for rows.Next() {
		var record HistoryRecord
		var stackJSON string
		var createdAtUnix int64

		if err := rows.Scan(
			&record.ID,
			&record.ProjectName,
			&record.TDC,
			&record.WACC,
			&stackJSON,
			&createdAtUnix,
		); err != nil {
			return nil, fmt.Errorf("failed to scan capital stack: %w", err)
		}

		if err := json.Unmarshal([]byte(stackJSON), &record.Stack); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stack %s: %w", record.ID, err)
		}
		record.CreatedAt = time.Unix(createdAtUnix, 0).UTC()

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capital stacks: %w", err)
	}

	return records, nil
}

// Count returns the number of stored stacks.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM capital_stacks").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count capital stacks: %w", err)
	}
	return count, nil
}

// PruneOlderThan deletes records created before the cutoff and returns the
// number removed.
func (r *Repository) PruneOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM capital_stacks WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune capital stacks: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}

	if removed > 0 {
		r.log.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("Pruned old capital stacks")
	}

	return removed, nil
}
