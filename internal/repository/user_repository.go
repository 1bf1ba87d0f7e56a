package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/digkill/SiteGenerator/internal/models"
)

// ErrDuplicate is returned when a unique key (email, transaction id) already exists.
var ErrDuplicate = errors.New("duplicate key")

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, is_active, is_staff, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsStaff, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Create inserts the user together with its profile row.
func (r *UserRepository) Create(ctx context.Context, user *models.User, freeCredits int) (*models.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const insertUser = `
INSERT INTO users (email, password_hash, is_active, is_staff)
VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, insertUser, user.Email, user.PasswordHash, user.IsActive, user.IsStaff)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	const insertProfile = `
INSERT INTO user_profiles (user_id, plan, free_credits_remaining)
VALUES (?, 'free', ?)`
	if _, err := tx.ExecContext(ctx, insertProfile, id, freeCredits); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit user tx: %w", err)
	}
	user.ID = id
	return user, nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user list: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

const profileColumns = `p.user_id, p.plan, p.plan_expires_at, p.free_credits_remaining, p.total_generated,
p.email_verified, COALESCE(p.otp_code, ''), p.otp_created_at, p.otp_attempts, u.is_active, p.created_at, p.updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*models.UserProfile, error) {
	var p models.UserProfile
	var expires, otpCreated sql.NullTime
	if err := row.Scan(&p.UserID, &p.Plan, &expires, &p.FreeCreditsRemaining, &p.TotalGenerated,
		&p.EmailVerified, &p.OTPCode, &otpCreated, &p.OTPAttempts, &p.AccountActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time.UTC()
		p.PlanExpiresAt = &t
	}
	if otpCreated.Valid {
		t := otpCreated.Time.UTC()
		p.OTPCreatedAt = &t
	}
	return &p, nil
}

func (r *UserRepository) GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + `
FROM user_profiles p JOIN users u ON u.id = p.user_id
WHERE p.user_id = ?`
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// SaveOTP stores a freshly issued challenge, replacing any previous one.
func (r *UserRepository) SaveOTP(ctx context.Context, userID int64, codeHash string, createdAt time.Time) error {
	const query = `
UPDATE user_profiles SET otp_code = ?, otp_created_at = ?, otp_attempts = 0, updated_at = NOW()
WHERE user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, codeHash, createdAt.UTC(), userID); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

// ClearOTP removes the challenge identified by codeHash, leaving a newer one untouched.
func (r *UserRepository) ClearOTP(ctx context.Context, userID int64, codeHash string) error {
	const query = `
UPDATE user_profiles SET otp_code = NULL, otp_created_at = NULL, otp_attempts = 0, updated_at = NOW()
WHERE user_id = ? AND otp_code = ?`
	if _, err := r.db.ExecContext(ctx, query, userID, codeHash); err != nil {
		return fmt.Errorf("clear otp: %w", err)
	}
	return nil
}

// RecordOTPFailure counts a wrong guess against the challenge identified by
// codeHash. The increment only happens while fewer than maxAttempts guesses
// were recorded; ok is false once the limit is reached or the challenge was
// superseded. attempts is the stored counter after the increment.
func (r *UserRepository) RecordOTPFailure(ctx context.Context, userID int64, codeHash string, maxAttempts int) (attempts int, ok bool, err error) {
	// LAST_INSERT_ID(expr) hands the incremented value back on the same connection.
	const query = `
UPDATE user_profiles SET otp_attempts = LAST_INSERT_ID(otp_attempts + 1), updated_at = NOW()
WHERE user_id = ? AND otp_code = ? AND otp_attempts < ?`
	res, err := r.db.ExecContext(ctx, query, userID, codeHash, maxAttempts)
	if err != nil {
		return 0, false, fmt.Errorf("record otp failure: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("otp failure rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}
	n, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("otp attempts value: %w", err)
	}
	return int(n), true, nil
}

// MarkEmailVerified clears the challenge, flags the email verified and activates
// the account. It reports false when the challenge was superseded or locked by
// failed guesses in the meantime.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID int64, codeHash string, maxAttempts int) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const profileQuery = `
UPDATE user_profiles
SET email_verified = 1, otp_code = NULL, otp_created_at = NULL, otp_attempts = 0, updated_at = NOW()
WHERE user_id = ? AND otp_code = ? AND otp_attempts < ?`
	res, err := tx.ExecContext(ctx, profileQuery, userID, codeHash, maxAttempts)
	if err != nil {
		return false, fmt.Errorf("mark email verified: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("verify rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET is_active = 1 WHERE id = ?`, userID); err != nil {
		return false, fmt.Errorf("activate user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit verification tx: %w", err)
	}
	return true, nil
}

// DowngradeExpired moves an expired paid plan back to free. Safe to call repeatedly.
func (r *UserRepository) DowngradeExpired(ctx context.Context, userID int64, now time.Time) (bool, error) {
	const query = `
UPDATE user_profiles SET plan = 'free', updated_at = NOW()
WHERE user_id = ? AND plan <> 'free' AND (plan_expires_at IS NULL OR plan_expires_at <= ?)`
	res, err := r.db.ExecContext(ctx, query, userID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("downgrade expired plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("downgrade rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReserveFreeCredit takes one free credit if any is left and returns the
// credits version the reservation was taken under.
func (r *UserRepository) ReserveFreeCredit(ctx context.Context, userID int64) (version int64, ok bool, err error) {
	const query = `
UPDATE user_profiles
SET free_credits_remaining = free_credits_remaining - 1, credits_version = LAST_INSERT_ID(credits_version), updated_at = NOW()
WHERE user_id = ? AND plan = 'free' AND free_credits_remaining > 0`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, false, fmt.Errorf("reserve free credit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("reserve rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}
	version, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("reserve credits version: %w", err)
	}
	return version, true, nil
}

// RefundFreeCredit returns a reserved credit unless the plan or credits were
// rewritten since the reservation.
func (r *UserRepository) RefundFreeCredit(ctx context.Context, userID, version int64) (bool, error) {
	const query = `
UPDATE user_profiles SET free_credits_remaining = free_credits_remaining + 1, updated_at = NOW()
WHERE user_id = ? AND credits_version = ?`
	res, err := r.db.ExecContext(ctx, query, userID, version)
	if err != nil {
		return false, fmt.Errorf("refund free credit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refund rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) IncrementGenerated(ctx context.Context, userID int64) error {
	const query = `UPDATE user_profiles SET total_generated = total_generated + 1, updated_at = NOW() WHERE user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("increment generated: %w", err)
	}
	return nil
}

// UpdatePlan persists plan, expiry and credit fields of the profile.
func (r *UserRepository) UpdatePlan(ctx context.Context, profile *models.UserProfile) error {
	return updatePlan(ctx, r.db, profile)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updatePlan(ctx context.Context, db execer, profile *models.UserProfile) error {
	const query = `
UPDATE user_profiles
SET plan = ?, plan_expires_at = ?, free_credits_remaining = ?, credits_version = credits_version + 1, updated_at = NOW()
WHERE user_id = ?`
	var expires any
	if profile.PlanExpiresAt != nil {
		expires = profile.PlanExpiresAt.UTC()
	}
	if _, err := db.ExecContext(ctx, query, profile.Plan, expires, profile.FreeCreditsRemaining, profile.UserID); err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}
