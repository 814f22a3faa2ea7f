package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no credentials are stored for a serial.
var ErrNotFound = errors.New("credentials not found")

// Credential holds the stored RTSP credentials for one camera.
type Credential struct {
	Serial    string    `json:"serial"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	ExtraArgs string    `json:"extra_args"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialRepository is the data access layer for camera credentials.
type CredentialRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *DB, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores credentials for a new camera.
func (r *CredentialRepository) Create(cred *Credential) error {
	query := `
		INSERT INTO camera_credentials (serial, username, password, extra_args, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	_, err := r.db.Conn().Exec(
		query,
		cred.Serial,
		cred.Username,
		cred.Password,
		cred.ExtraArgs,
		cred.CreatedAt,
		cred.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create credentials: %w", err)
	}

	r.logger.Info("Credentials stored",
		zap.String("serial", cred.Serial),
		zap.String("username", cred.Username),
	)

	return nil
}

// Get returns the credentials stored for a serial.
func (r *CredentialRepository) Get(serial string) (*Credential, error) {
	query := `
		SELECT serial, username, password, extra_args, created_at, updated_at
		FROM camera_credentials
		WHERE serial = ?
	`

	cred := &Credential{}
	err := r.db.Conn().QueryRow(query, serial).Scan(
		&cred.Serial,
		&cred.Username,
		&cred.Password,
		&cred.ExtraArgs,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, serial)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	return cred, nil
}

// List returns the credentials for all configured cameras.
func (r *CredentialRepository) List() ([]*Credential, error) {
	query := `
		SELECT serial, username, password, extra_args, created_at, updated_at
		FROM camera_credentials
		ORDER BY created_at DESC
	`

	rows, err := r.db.Conn().Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred := &Credential{}
		err := rows.Scan(
			&cred.Serial,
			&cred.Username,
			&cred.Password,
			&cred.ExtraArgs,
			&cred.CreatedAt,
			&cred.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credentials: %w", err)
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return creds, nil
}

// Update replaces the stored credentials for a serial.
func (r *CredentialRepository) Update(cred *Credential) error {
	query := `
		UPDATE camera_credentials
		SET username = ?, password = ?, extra_args = ?, updated_at = ?
		WHERE serial = ?
	`

	cred.UpdatedAt = time.Now()

	result, err := r.db.Conn().Exec(
		query,
		cred.Username,
		cred.Password,
		cred.ExtraArgs,
		cred.UpdatedAt,
		cred.Serial,
	)

	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, cred.Serial)
	}

	r.logger.Info("Credentials updated",
		zap.String("serial", cred.Serial),
	)

	return nil
}

// Delete removes the stored credentials for a serial.
func (r *CredentialRepository) Delete(serial string) error {
	query := `DELETE FROM camera_credentials WHERE serial = ?`

	result, err := r.db.Conn().Exec(query, serial)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, serial)
	}

	r.logger.Info("Credentials deleted",
		zap.String("serial", serial),
	)

	return nil
}

// Exists reports whether credentials are stored for a serial.
func (r *CredentialRepository) Exists(serial string) (bool, error) {
	query := `SELECT COUNT(*) FROM camera_credentials WHERE serial = ?`

	var count int
	err := r.db.Conn().QueryRow(query, serial).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check credential existence: %w", err)
	}

	return count > 0, nil
}
