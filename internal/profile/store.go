package profile

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store persists calibration profiles as versioned JSON payloads, one per room.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new Store using the provided database connection
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts the profile for its room, bumping the version on overwrite
func (s *Store) Save(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	now := time.Now().UTC().Unix()

	_, err = s.db.Exec(`
		INSERT INTO calibration_profiles (room, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(room) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, p.Room, string(data), now)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// Load returns the stored profile for a room, or nil if none exists
func (s *Store) Load(room string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`
		SELECT payload FROM calibration_profiles WHERE room = ?
	`, room).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	return &p, nil
}

// LoadAll returns all stored profiles keyed by room
func (s *Store) LoadAll() (map[string]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT room, payload FROM calibration_profiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]*Profile)
	for rows.Next() {
		var room, payload string
		if err := rows.Scan(&room, &payload); err != nil {
			return nil, err
		}

		var p Profile
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile for %q: %w", room, err)
		}
		profiles[room] = &p
	}

	return profiles, rows.Err()
}

// Delete removes the stored profile for a room
func (s *Store) Delete(room string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM calibration_profiles WHERE room = ?`, room)
	if err != nil {
		return false, fmt.Errorf("failed to delete profile: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}
