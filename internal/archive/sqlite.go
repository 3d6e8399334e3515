package archive

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the incident archive.
const schema = `
CREATE TABLE IF NOT EXISTS incidents (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    tick            INTEGER NOT NULL,
    threat_level    TEXT NOT NULL,
    attack          TEXT NOT NULL,
    score           INTEGER NOT NULL,
    response_level  TEXT NOT NULL,
    pc              INTEGER NOT NULL,
    priv_level      INTEGER NOT NULL,
    last_bad_pc     INTEGER NOT NULL,
    channels        TEXT NOT NULL,
    prev_seal       BLOB NOT NULL,
    seal            BLOB NOT NULL UNIQUE,
    archived_at_ns  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_tick ON incidents(tick);
CREATE INDEX IF NOT EXISTS idx_incidents_level ON incidents(threat_level, tick);
`

// Store is the SQLite-backed incident archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive database at the given path.
func Open(path string, busyTimeoutMs int) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert archives an incident and returns its ID.
func (s *Store) Insert(inc *Incident) (int64, error) {
	channelsJSON, err := json.Marshal(inc.Channels)
	if err != nil {
		return 0, fmt.Errorf("marshal channels: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO incidents (tick, threat_level, attack, score, response_level, pc, priv_level, last_bad_pc, channels, prev_seal, seal, archived_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.Tick, inc.ThreatLevel, inc.Attack, inc.Score, inc.ResponseLevel,
		inc.PC, inc.PrivLevel, inc.LastBadPC, string(channelsJSON),
		inc.PrevSeal, inc.Seal, inc.ArchivedAtNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert incident: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	inc.ID = id
	return id, nil
}

// Get retrieves an incident by ID. Returns nil when no row matches.
func (s *Store) Get(id int64) (*Incident, error) {
	row := s.db.QueryRow(`
		SELECT id, tick, threat_level, attack, score, response_level, pc, priv_level, last_bad_pc, channels, prev_seal, seal, archived_at_ns
		FROM incidents WHERE id = ?`, id,
	)
	inc, err := scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// GetByTickRange retrieves incidents captured within a tick range,
// oldest first.
func (s *Store) GetByTickRange(startTick, endTick uint64) ([]Incident, error) {
	rows, err := s.db.Query(`
		SELECT id, tick, threat_level, attack, score, response_level, pc, priv_level, last_bad_pc, channels, prev_seal, seal, archived_at_ns
		FROM incidents
		WHERE tick >= ? AND tick <= ?
		ORDER BY tick ASC, id ASC`, startTick, endTick,
	)
	if err != nil {
		return nil, fmt.Errorf("query incidents by tick: %w", err)
	}
	defer rows.Close()

	return scanIncidents(rows)
}

// GetByLevel retrieves all incidents classified at the given threat
// level, oldest first.
func (s *Store) GetByLevel(level string) ([]Incident, error) {
	rows, err := s.db.Query(`
		SELECT id, tick, threat_level, attack, score, response_level, pc, priv_level, last_bad_pc, channels, prev_seal, seal, archived_at_ns
		FROM incidents
		WHERE threat_level = ?
		ORDER BY tick ASC, id ASC`, level,
	)
	if err != nil {
		return nil, fmt.Errorf("query incidents by level: %w", err)
	}
	defer rows.Close()

	return scanIncidents(rows)
}

// LastSeal returns the seal of the most recently archived incident, or
// nil when the archive is empty. Used to check chain continuity across
// restarts.
func (s *Store) LastSeal() ([]byte, error) {
	var seal []byte
	err := s.db.QueryRow(`SELECT seal FROM incidents ORDER BY id DESC LIMIT 1`).Scan(&seal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last seal: %w", err)
	}
	return seal, nil
}

// Count returns the number of archived incidents.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM incidents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count incidents: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var channelsJSON string

	if err := row.Scan(&inc.ID, &inc.Tick, &inc.ThreatLevel, &inc.Attack, &inc.Score,
		&inc.ResponseLevel, &inc.PC, &inc.PrivLevel, &inc.LastBadPC,
		&channelsJSON, &inc.PrevSeal, &inc.Seal, &inc.ArchivedAtNs); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(channelsJSON), &inc.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}

	return &inc, nil
}

func scanIncidents(rows *sql.Rows) ([]Incident, error) {
	var incidents []Incident

	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	return incidents, nil
}
