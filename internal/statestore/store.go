// Package statestore implements a single persisted document per accountId
// holding {rootId, changeToken, fileInfo, synced, changesToExecute}. Saves
// are whole-document and atomic.
//
// The underlying storage is an embedded-migration SQLite database: one row
// per account keyed by accountId with the document serialized as JSON
// columns.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/tamsinhale/drivesync/internal/remote"
)

// State is the persisted engine state document.
type State struct {
	RootID           string
	ChangeToken      string
	FileInfo         map[string]remote.FileInfo
	Synced           bool
	ChangesToExecute []remote.Change // buffered, crash-tolerant pending changes
}

// Store persists State documents, one per accountId, in an embedded SQLite
// database opened in WAL mode.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the state database at dbPath, running any pending
// migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("statestore: opening %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1) // single-writer model; avoid SQLite lock contention

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted State for accountId, or (nil, nil) if no
// document exists yet (first run).
func (s *Store) Load(ctx context.Context, accountID string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT root_id, change_token, synced, file_info_json, changes_to_execute_json
		FROM sync_state WHERE account_id = ?`, accountID)

	var (
		rootID, token, fileInfoJSON, changesJSON string
		synced                                    int
	)

	err := row.Scan(&rootID, &token, &synced, &fileInfoJSON, &changesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("statestore: loading %s: %w", accountID, err)
	}

	fileInfo := make(map[string]remote.FileInfo)
	if err := json.Unmarshal([]byte(fileInfoJSON), &fileInfo); err != nil {
		return nil, fmt.Errorf("statestore: decoding fileInfo for %s: %w", accountID, err)
	}

	var changes []remote.Change
	if err := json.Unmarshal([]byte(changesJSON), &changes); err != nil {
		return nil, fmt.Errorf("statestore: decoding changesToExecute for %s: %w", accountID, err)
	}

	return &State{
		RootID:           rootID,
		ChangeToken:      token,
		Synced:           synced != 0,
		FileInfo:         fileInfo,
		ChangesToExecute: changes,
	}, nil
}

// Save persists state as a whole document, replacing any prior document for
// accountId in a single atomic statement.
func (s *Store) Save(ctx context.Context, accountID string, state *State) error {
	fileInfoJSON, err := json.Marshal(state.FileInfo)
	if err != nil {
		return fmt.Errorf("statestore: encoding fileInfo: %w", err)
	}

	changesJSON, err := json.Marshal(state.ChangesToExecute)
	if err != nil {
		return fmt.Errorf("statestore: encoding changesToExecute: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_state (account_id, doc_type, doc_id, root_id, change_token, synced, file_info_json, changes_to_execute_json, updated_at)
		VALUES (?, 'sync', ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			root_id = excluded.root_id,
			change_token = excluded.change_token,
			synced = excluded.synced,
			file_info_json = excluded.file_info_json,
			changes_to_execute_json = excluded.changes_to_execute_json,
			updated_at = excluded.updated_at`,
		accountID, uuid.NewString(), state.RootID, state.ChangeToken, boolToInt(state.Synced),
		string(fileInfoJSON), string(changesJSON), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("statestore: saving %s: %w", accountID, err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
