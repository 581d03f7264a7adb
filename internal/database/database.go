package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"forwardbot/internal/migrations"
	"forwardbot/internal/models"
	"forwardbot/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite repository for accounts, allow-lists and cursors
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	now       func() time.Time
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initialize(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close error: %v)", err, closeErr)
		}
		return nil, err
	}

	enc, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc, now: time.Now}, nil
}

func initialize(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	scripts, err := migrations.All()
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	for _, script := range scripts {
		if _, err := db.Exec(script); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// FindAccounts returns every registered account with its token decrypted
func (d *Database) FindAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := d.db.QueryContext(ctx, selectAccountsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []models.Account
	for rows.Next() {
		account, err := d.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

// FindAccount returns a single account, nil when it is not registered
func (d *Database) FindAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	row := d.db.QueryRowContext(ctx, selectAccountByIDQuery, accountID)
	account, err := d.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *Database) scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account            models.Account
		encryptedToken     string
		createdAt, updated int64
	)

	err := row.Scan(
		&account.AccountID,
		&account.SourceUserID,
		&encryptedToken,
		&account.MaxExceptionCount,
		&createdAt,
		&updated,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	account.SourceToken, err = d.encryptor.Decrypt(encryptedToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt source token: %w", err)
	}
	account.CreatedAt = time.UnixMilli(createdAt)
	account.UpdatedAt = time.UnixMilli(updated)

	return &account, nil
}

// SaveAccount registers an account or replaces its credentials
func (d *Database) SaveAccount(ctx context.Context, account *models.Account) error {
	if account.AccountID == 0 {
		return fmt.Errorf("account id is required")
	}

	encryptedToken, err := d.encryptor.Encrypt(account.SourceToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt source token: %w", err)
	}

	now := d.now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, upsertAccountQuery,
			account.AccountID,
			account.SourceUserID,
			encryptedToken,
			account.MaxExceptionCount,
			account.CreatedAt.UnixMilli(),
			account.UpdatedAt.UnixMilli(),
		)
		return err
	}, "save account")
}

// DeleteAccount removes an account and, through the foreign keys, its allow-list
// and cursor. Deleting an unknown account is not an error.
func (d *Database) DeleteAccount(ctx context.Context, accountID int64) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, deleteAccountQuery, accountID)
		return err
	}, "delete account")
}

// FindAllowList returns the allow-list entries of an account ordered by contact id
func (d *Database) FindAllowList(ctx context.Context, accountID int64) ([]models.AllowListEntry, error) {
	rows, err := d.db.QueryContext(ctx, selectAllowListQuery, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allow-list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.AllowListEntry
	for rows.Next() {
		var entry models.AllowListEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.SourceContactID, &entry.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan allow-list entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate allow-list: %w", err)
	}

	return entries, nil
}

// AddAllowListEntry admits a contact, updating the display name when already present
func (d *Database) AddAllowListEntry(ctx context.Context, entry *models.AllowListEntry) error {
	return retryableDBOperation(ctx, func() error {
		return d.db.QueryRowContext(ctx, upsertAllowListQuery,
			entry.AccountID,
			entry.SourceContactID,
			entry.DisplayName,
		).Scan(&entry.ID)
	}, "add allow-list entry")
}

// RemoveAllowListEntry drops a contact from an account's allow-list; removing an absent entry is not an error
func (d *Database) RemoveAllowListEntry(ctx context.Context, accountID, contactID int64) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, deleteAllowListEntryQuery, accountID, contactID)
		return err
	}, "remove allow-list entry")
}
