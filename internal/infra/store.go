package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	// StoreDBName is the database file inside the data directory.
	StoreDBName = "kidguard.db"

	// DefaultParentPin is seeded on first open.
	DefaultParentPin = "1234"

	// DefaultIconSize is the launcher icon size in dp.
	DefaultIconSize = 56

	prefKidMode  = "kid_mode"
	prefIconSize = "icon_size"
	prefPinHash  = "parent_pin_hash"
)

// Store implements domain.PreferenceStore and domain.DaemonRegistry
// using a SQLCipher encrypted SQLite database.
type Store struct {
	db      *sql.DB
	dbPath  string
	pinCost int
	logger  *zap.Logger
}

// NewStore opens (or creates) the encrypted store.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewStore(dataDir string, key []byte, logger *zap.Logger) (*Store, error) {
	return newStore(dataDir, key, bcrypt.DefaultCost, logger)
}

func newStore(dataDir string, key []byte, pinCost int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, StoreDBName)
	keyHex := hex.EncodeToString(key)

	// The CLI and the daemon share the file; wait on locks instead of failing.
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify encryption works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, pinCost: pinCost, logger: logger}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := s.seedDefaults(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed defaults: %w", err)
	}

	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS whitelist (
		package TEXT PRIMARY KEY,
		added_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dock_apps (
		position INTEGER PRIMARY KEY,
		package TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daemon_state (
		role TEXT PRIMARY KEY,
		pid INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		mode TEXT DEFAULT '',
		app_version TEXT DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// seedDefaults fills in any default preference that is missing, in one transaction.
func (s *Store) seedDefaults() error {
	_, hasPin, err := s.getPref(prefPinHash)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	defaults := map[string]string{
		prefKidMode:  "false",
		prefIconSize: strconv.Itoa(DefaultIconSize),
	}
	if !hasPin {
		hash, err := s.hashPin(DefaultParentPin)
		if err != nil {
			return err
		}
		defaults[prefPinHash] = hash
	}
	for key, value := range defaults {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO preferences (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to seed %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *Store) getPref(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) setPref(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO preferences (key, value) VALUES (?, ?)`, key, value)
	return err
}

// --- domain.PreferenceStore implementation ---

// KidMode reports whether kid mode is active. Read failures count as off.
func (s *Store) KidMode() bool {
	v, _, err := s.getPref(prefKidMode)
	if err != nil {
		s.logger.Warn("failed to read kid mode", zap.Error(err))
		return false
	}
	return v == "true"
}

// SetKidMode persists the kid-mode flag.
func (s *Store) SetKidMode(enabled bool) error {
	return s.setPref(prefKidMode, strconv.FormatBool(enabled))
}

// Whitelist returns the allowed packages. Read failures yield an empty set.
func (s *Store) Whitelist() map[string]struct{} {
	out := make(map[string]struct{})

	rows, err := s.db.Query(`SELECT package FROM whitelist`)
	if err != nil {
		s.logger.Warn("failed to read whitelist", zap.Error(err))
		return out
	}
	defer rows.Close()

	pkgs, err := collectPackages(rows)
	if err != nil {
		s.logger.Warn("failed to read whitelist rows", zap.Error(err))
		return out
	}
	return pkgs
}

// packageRows is the part of *sql.Rows that collectPackages reads.
type packageRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// collectPackages reads one package column per row. A partial read is an error.
func collectPackages(rows packageRows) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return nil, err
		}
		out[pkg] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AddToWhitelist allows a package.
func (s *Store) AddToWhitelist(pkg string) error {
	if pkg == "" {
		return errors.New("empty package name")
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO whitelist (package, added_at) VALUES (?, ?)`, pkg, time.Now().Unix())
	return err
}

// RemoveFromWhitelist revokes a package.
func (s *Store) RemoveFromWhitelist(pkg string) error {
	_, err := s.db.Exec(`DELETE FROM whitelist WHERE package = ?`, pkg)
	return err
}

// VerifyPin checks a parent PIN against the stored hash.
func (s *Store) VerifyPin(pin string) (bool, error) {
	hash, ok, err := s.getPref(prefPinHash)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errors.New("parent PIN not set")
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetPin replaces the parent PIN.
func (s *Store) SetPin(pin string) error {
	if len(pin) < 4 {
		return fmt.Errorf("PIN must be at least 4 characters")
	}
	hash, err := s.hashPin(pin)
	if err != nil {
		return err
	}
	return s.setPref(prefPinHash, hash)
}

func (s *Store) hashPin(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.pinCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash PIN: %w", err)
	}
	return string(hash), nil
}

// LauncherSettings returns icon size and dock layout.
func (s *Store) LauncherSettings() (domain.LauncherSettings, error) {
	settings := domain.LauncherSettings{IconSize: DefaultIconSize}

	v, ok, err := s.getPref(prefIconSize)
	if err != nil {
		return settings, err
	}
	if ok {
		if size, convErr := strconv.Atoi(v); convErr == nil {
			settings.IconSize = size
		}
	}

	rows, err := s.db.Query(`SELECT package FROM dock_apps ORDER BY position`)
	if err != nil {
		return settings, err
	}
	defer rows.Close()

	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return settings, err
		}
		settings.DockApps = append(settings.DockApps, pkg)
	}
	return settings, rows.Err()
}

// SaveLauncherSettings persists icon size and dock layout.
func (s *Store) SaveLauncherSettings(settings domain.LauncherSettings) error {
	if settings.IconSize <= 0 {
		return fmt.Errorf("invalid icon size %d", settings.IconSize)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`INSERT OR REPLACE INTO preferences (key, value) VALUES (?, ?)`,
		prefIconSize, strconv.Itoa(settings.IconSize)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM dock_apps`); err != nil {
		return err
	}
	for i, pkg := range settings.DockApps {
		if _, err := tx.Exec(`INSERT INTO dock_apps (position, package) VALUES (?, ?)`, i, pkg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- domain.DaemonRegistry implementation ---

// Register saves the daemon's PID.
func (s *Store) Register(daemon domain.Daemon) error {
	// Auto-detect mode
	mode := "user"
	if os.Geteuid() == 0 {
		mode = "system"
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_state (role, pid, last_heartbeat, mode, app_version)
		VALUES (?, ?, ?, ?, ?)`,
		string(daemon.Role), daemon.PID, time.Now().Unix(), mode, daemon.AppVersion,
	)
	return err
}

// UpdateHeartbeat updates timestamp for liveness check.
func (s *Store) UpdateHeartbeat(role domain.DaemonRole) error {
	result, err := s.db.Exec(`UPDATE daemon_state SET last_heartbeat = ? WHERE role = ?`,
		time.Now().Unix(), string(role))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("daemon %s not registered", role)
	}
	return nil
}

// GetAll returns registry state (for status command), or nil when nothing is registered.
func (s *Store) GetAll() (*domain.RegistryEntry, error) {
	entry := &domain.RegistryEntry{}
	err := s.db.QueryRow(`SELECT pid, last_heartbeat, mode, app_version FROM daemon_state WHERE role = ?`,
		string(domain.RoleEnforcer)).Scan(&entry.EnforcerPID, &entry.LastHeartbeat, &entry.Mode, &entry.AppVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Clear removes daemon state (for clean restart).
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM daemon_state`)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure Store implements both interfaces.
var (
	_ domain.PreferenceStore = (*Store)(nil)
	_ domain.DaemonRegistry  = (*Store)(nil)
)
