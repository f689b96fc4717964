package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/repository"
)

const usersTable = "tbot.users"

// pgExecutor abstracts pgxpool.Pool so tests can substitute a mock.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepository is the PostgreSQL cache of directory accounts, refreshed by
// the sync job and queried during contact authentication.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed directory user cache.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return newUserRepository(pool)
}

func newUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetByPhone resolves a cached user by phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.DirectoryUser, error) {
	stmt, args, err := r.builder.
		Select("username", "name", "mail", "phone").
		From(usersTable).
		Where(squirrel.Eq{"phone": phone}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user domain.DirectoryUser
	row := r.exec.QueryRow(ctx, stmt, args...)
	if err := row.Scan(&user.Username, &user.Name, &user.Email, &user.Phone); err != nil {
		if err == pgx.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &user, nil
}

// ReplaceAll swaps the whole cache for the supplied set inside one
// transaction, so readers never observe a half-refreshed table.
func (r *UserRepository) ReplaceAll(ctx context.Context, users []domain.DirectoryUser) (int, error) {
	tx, err := r.exec.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin replace users: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	deleteSQL, deleteArgs, err := r.builder.Delete(usersTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete users sql: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
		return 0, fmt.Errorf("delete users: %w", err)
	}

	inserted := 0
	for start := 0; start < len(users); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(users) {
			end = len(users)
		}

		insert := r.builder.Insert(usersTable).Columns("username", "name", "mail", "phone")
		for _, user := range users[start:end] {
			insert = insert.Values(user.Username, user.Name, user.Email, user.Phone)
		}

		insertSQL, insertArgs, err := insert.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build insert users sql: %w", err)
		}

		tag, err := tx.Exec(ctx, insertSQL, insertArgs...)
		if err != nil {
			return 0, fmt.Errorf("insert users: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit replace users: %w", err)
	}
	committed = true

	return inserted, nil
}

const insertBatchSize = 1000
