package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/lox/homedash/internal/models"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrEmailExists = errors.New("email already registered")
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the SQLite database at path with WAL journaling and a busy
// timeout, ready for Migrate.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) CreateUser(u models.User) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM users WHERE lower(email) = lower(?)`, u.Email).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if exists > 0 {
		return ErrEmailExists
	}

	if _, err := tx.Exec(`
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt.UTC()); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrEmailExists
		}
		return fmt.Errorf("insert user: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO preferences (user_id) VALUES (?)`, u.ID); err != nil {
		return fmt.Errorf("insert preferences: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetUser(id string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, name, email, password_hash, created_at FROM users WHERE lower(email) = lower(?)`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetPreferences returns the stored preferences, or defaults when the user
// has none yet.
func (s *Store) GetPreferences(userID string) (*models.Preferences, error) {
	p := models.Preferences{
		UserID:                userID,
		BankingRefreshMinutes: 60,
		DevicesRefreshSeconds: 30,
	}
	err := s.db.QueryRow(`
		SELECT weather_location, weather_lat, weather_lon, banking_refresh_minutes, devices_refresh_seconds
		FROM preferences
		WHERE user_id = ?
	`, userID).Scan(&p.WeatherLocation, &p.WeatherLat, &p.WeatherLon, &p.BankingRefreshMinutes, &p.DevicesRefreshSeconds)
	if err == sql.ErrNoRows {
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertWeatherPreference stores the default weather location. Invalid
// coordinates are stored as NULL.
func (s *Store) UpsertWeatherPreference(userID, location string, lat, lon sql.NullFloat64) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (user_id, weather_location, weather_lat, weather_lon)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			weather_location = excluded.weather_location,
			weather_lat = excluded.weather_lat,
			weather_lon = excluded.weather_lon
	`, userID, location, lat, lon)
	return err
}

func (s *Store) UpdateBankingRefresh(userID string, minutes int) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (user_id, banking_refresh_minutes) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET banking_refresh_minutes = excluded.banking_refresh_minutes
	`, userID, minutes)
	return err
}

func (s *Store) UpdateDeviceRefresh(userID string, seconds int) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (user_id, devices_refresh_seconds) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET devices_refresh_seconds = excluded.devices_refresh_seconds
	`, userID, seconds)
	return err
}

func (s *Store) CountUsers() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
