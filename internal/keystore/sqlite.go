package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const containerColumns = "id, name, keystore_type, data, encrypted_password, version, created_at, updated_at"

const indexColumns = "container_id, alias, subject, issuer, country, has_private_key, status, validated, fingerprint, not_after, updated_at"

// SQLiteRepository is a Repository over the containers and index_rows
// tables. The schema is created by the internal migrations.
type SQLiteRepository struct {
	db   *sqlx.DB
	ext  sqlx.ExtContext
	inTx bool
}

// NewSQLiteRepository wraps an open, migrated database.
func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, ext: db}
}

// GetContainer returns the container with the given id.
func (r *SQLiteRepository) GetContainer(ctx context.Context, id string) (*Container, error) {
	var c Container
	err := sqlx.GetContext(ctx, r.ext, &c, "SELECT "+containerColumns+" FROM containers WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return nil, fmt.Errorf("getting container %s: %w", id, err)
	}
	return &c, nil
}

// CreateContainer inserts a new container.
func (r *SQLiteRepository) CreateContainer(ctx context.Context, c *Container) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext, `
		INSERT INTO containers (`+containerColumns+`)
		VALUES (:id, :name, :keystore_type, :data, :encrypted_password, :version, :created_at, :updated_at)
	`, c)
	if err != nil {
		return fmt.Errorf("inserting container %s: %w", c.ID, err)
	}
	return nil
}

// SaveContainer updates c if the stored version equals expectedVersion.
func (r *SQLiteRepository) SaveContainer(ctx context.Context, c *Container, expectedVersion int64) error {
	res, err := r.ext.ExecContext(ctx, `
		UPDATE containers
		SET name = ?, keystore_type = ?, data = ?, encrypted_password = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, c.Name, c.Type, c.Blob, c.EncryptedPassword, c.Version, c.UpdatedAt, c.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating container %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating container %s: %w", c.ID, err)
	}
	if n == 1 {
		return nil
	}

	var stored int64
	err = sqlx.GetContext(ctx, r.ext, &stored, "SELECT version FROM containers WHERE id = ?", c.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, c.ID)
		}
		return fmt.Errorf("reading version of container %s: %w", c.ID, err)
	}
	return fmt.Errorf("%w: container %s is at version %d, expected %d", ErrVersionConflict, c.ID, stored, expectedVersion)
}

// ListContainers returns all containers ordered by creation time.
func (r *SQLiteRepository) ListContainers(ctx context.Context) ([]*Container, error) {
	var out []*Container
	err := sqlx.SelectContext(ctx, r.ext, &out, "SELECT "+containerColumns+" FROM containers ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	return out, nil
}

// UpsertIndexRow inserts or replaces the row for (row.ContainerID, row.Alias).
func (r *SQLiteRepository) UpsertIndexRow(ctx context.Context, row *IndexRow) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext, `
		INSERT INTO index_rows (`+indexColumns+`)
		VALUES (:container_id, :alias, :subject, :issuer, :country, :has_private_key, :status, :validated, :fingerprint, :not_after, :updated_at)
		ON CONFLICT (container_id, alias) DO UPDATE SET
			subject = excluded.subject,
			issuer = excluded.issuer,
			country = excluded.country,
			has_private_key = excluded.has_private_key,
			status = excluded.status,
			validated = excluded.validated,
			fingerprint = excluded.fingerprint,
			not_after = excluded.not_after,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("upserting index row %q: %w", row.Alias, err)
	}
	return nil
}

// DeleteIndexRow removes the row for (containerID, alias) if present.
func (r *SQLiteRepository) DeleteIndexRow(ctx context.Context, containerID, alias string) error {
	_, err := r.ext.ExecContext(ctx, "DELETE FROM index_rows WHERE container_id = ? AND alias = ?", containerID, alias)
	if err != nil {
		return fmt.Errorf("deleting index row %q: %w", alias, err)
	}
	return nil
}

// FindIndexRow returns the row for (containerID, alias), or nil.
func (r *SQLiteRepository) FindIndexRow(ctx context.Context, containerID, alias string) (*IndexRow, error) {
	var row IndexRow
	err := sqlx.GetContext(ctx, r.ext, &row,
		"SELECT "+indexColumns+" FROM index_rows WHERE container_id = ? AND alias = ?", containerID, alias)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding index row %q: %w", alias, err)
	}
	return &row, nil
}

// ListIndexRows returns the rows of one container in alias order.
func (r *SQLiteRepository) ListIndexRows(ctx context.Context, containerID string) ([]*IndexRow, error) {
	return r.SearchIndexRows(ctx, IndexQuery{ContainerID: containerID})
}

// SearchIndexRows returns all rows matching q, ordered by container id and
// alias.
func (r *SQLiteRepository) SearchIndexRows(ctx context.Context, q IndexQuery) ([]*IndexRow, error) {
	var (
		where []string
		args  []any
	)
	if q.ContainerID != "" {
		where = append(where, "container_id = ?")
		args = append(args, q.ContainerID)
	}
	if q.Subject != "" {
		where = append(where, "instr(lower(subject), lower(?)) > 0")
		args = append(args, q.Subject)
	}
	if q.Issuer != "" {
		where = append(where, "instr(lower(issuer), lower(?)) > 0")
		args = append(args, q.Issuer)
	}
	if q.Country != "" {
		where = append(where, "upper(country) = upper(?)")
		args = append(args, q.Country)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	if q.HasPrivateKey != nil {
		where = append(where, "has_private_key = ?")
		args = append(args, *q.HasPrivateKey)
	}

	query := "SELECT " + indexColumns + " FROM index_rows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY container_id, alias"

	var out []*IndexRow
	if err := sqlx.SelectContext(ctx, r.ext, &out, query, args...); err != nil {
		return nil, fmt.Errorf("searching index rows: %w", err)
	}
	return out, nil
}

// InTx runs fn inside a database transaction, committing when fn returns
// nil. Nested calls join the outer transaction.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLiteRepository{db: r.db, ext: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
