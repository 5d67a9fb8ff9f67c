package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atbmarket/account-service/internal/core/domain"
	"github.com/atbmarket/account-service/internal/core/port"
	"github.com/atbmarket/account-service/internal/repository"
)

const uniqueViolationCode = "23505"

var userColumns = []string{
	"id",
	"username",
	"email",
	"password_hash",
	"first_name",
	"last_name",
	"phone",
	"image_small",
	"image_medium",
	"image_large",
	"created_at",
	"updated_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new user row. Unique-constraint races surface as
// repository.ErrDuplicateUsername / ErrDuplicateEmail.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	query := r.builder.Insert("account.users").
		Columns(userColumns...).
		Values(
			user.ID,
			user.Username,
			user.Email,
			user.PasswordHash,
			user.FirstName,
			user.LastName,
			phoneValue(user.Phone),
			imageValue(user.Images.Small),
			imageValue(user.Images.Medium),
			imageValue(user.Images.Large),
			user.CreatedAt,
			user.UpdatedAt,
		)

	stmt, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("account.users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return user, nil
}

// List returns users ordered by registration time with pagination.
func (r *UserRepository) List(ctx context.Context, filter port.UserFilter) ([]domain.User, error) {
	query := r.builder.Select(userColumns...).
		From("account.users").
		OrderBy("created_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// Count returns the total number of users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	stmt, args, err := r.builder.Select("COUNT(*)").
		From("account.users").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count users sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("scan users count: %w", err)
	}

	return int(count), nil
}

// Update overwrites the mutable fields of an existing user row.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Update("account.users").
		Set("username", user.Username).
		Set("email", user.Email).
		Set("first_name", user.FirstName).
		Set("last_name", user.LastName).
		Set("phone", phoneValue(user.Phone)).
		Set("image_small", imageValue(user.Images.Small)).
		Set("image_medium", imageValue(user.Images.Medium)).
		Set("image_large", imageValue(user.Images.Large)).
		Set("updated_at", user.UpdatedAt).
		Where(squirrel.Eq{"id": user.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes a user row.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("account.users").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete user sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ExistsByUsername reports whether the username is already taken.
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, squirrel.Eq{"username": username})
}

// ExistsByEmail reports whether the email is already registered.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, squirrel.Eq{"email": email})
}

func (r *UserRepository) exists(ctx context.Context, cond squirrel.Eq) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		From("account.users").
		Where(cond).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists sql: %w", err)
	}

	var one int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("scan exists: %w", err)
	}

	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user        domain.User
		phone       sql.NullString
		imageSmall  sql.NullString
		imageMedium sql.NullString
		imageLarge  sql.NullString
	)

	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&phone,
		&imageSmall,
		&imageMedium,
		&imageLarge,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if phone.Valid {
		val := phone.String
		user.Phone = &val
	}
	user.Images = domain.ImageSet{
		Small:  imageSmall.String,
		Medium: imageMedium.String,
		Large:  imageLarge.String,
	}

	return &user, nil
}

func phoneValue(phone *string) any {
	if phone != nil && *phone != "" {
		return *phone
	}
	return nil
}

func imageValue(key string) any {
	if key != "" {
		return key
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return nil
	}

	switch {
	case strings.Contains(pgErr.ConstraintName, "email"):
		return repository.ErrDuplicateEmail
	default:
		return repository.ErrDuplicateUsername
	}
}

var _ port.UserRepository = (*UserRepository)(nil)
