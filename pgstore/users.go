package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gmpAuth "github.com/MrEthical07/gmpAuth"
	"github.com/jackc/pgerrcode"
)

var _ gmpAuth.UserStore = (*Store)(nil)

const userColumns = `id, username, email, password_hash, status, failed_attempts, locked_until,
	password_changed_at, password_expires_at, mfa_enabled, mfa_secret, totp_last_step, last_login_at, last_login_ip`

// ErrUserExists is returned by CreateUser for a taken id, username or
// email.
var ErrUserExists = errors.New("user already exists")

// CreateUser inserts u.
func (s *Store) CreateUser(ctx context.Context, u gmpAuth.UserRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, u.UserID, u.Username, nullString(u.Email), u.PasswordHash, int16(u.Status), u.FailedAttempts,
		nullTime(u.LockedUntil), nullTime(u.PasswordChangedAt), nullTime(u.PasswordExpiresAt),
		u.MfaEnabled, u.MfaSecret, u.TotpLastStep, nullTime(u.LastLoginAt), u.LastLoginIP)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUserExists, pgErr.ConstraintName)
		}
		return fmt.Errorf("pgstore: create user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (*gmpAuth.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where lower(username) = lower($1) or lower(email) = lower($1)
		limit 1
	`, identifier)
	return s.loadUser(ctx, row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*gmpAuth.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, userID)
	return s.loadUser(ctx, row)
}

func (s *Store) loadUser(ctx context.Context, row *sql.Row) (*gmpAuth.UserRecord, error) {
	var (
		u                                 gmpAuth.UserRecord
		email                             sql.NullString
		status                            int16
		locked, changed, expires, lastLog sql.NullTime
	)
	err := row.Scan(&u.UserID, &u.Username, &email, &u.PasswordHash, &status, &u.FailedAttempts,
		&locked, &changed, &expires, &u.MfaEnabled, &u.MfaSecret, &u.TotpLastStep, &lastLog, &u.LastLoginIP)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gmpAuth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: load user: %w", err)
	}
	u.Email = email.String
	u.Status = gmpAuth.AccountStatus(status)
	u.LockedUntil = locked.Time
	u.PasswordChangedAt = changed.Time
	u.PasswordExpiresAt = expires.Time
	u.LastLoginAt = lastLog.Time

	rows, err := s.db.QueryContext(ctx, `
		select code_hash from user_recovery_codes where user_id = $1 order by position
	`, u.UserID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load recovery codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("pgstore: scan recovery code: %w", err)
		}
		u.RecoveryCodeHashes = append(u.RecoveryCodeHashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: load recovery codes: %w", err)
	}
	return &u, nil
}

// IncrementFailedLogins bumps the counter in one statement so concurrent
// failures are never lost.
func (s *Store) IncrementFailedLogins(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		update users set failed_attempts = failed_attempts + 1
		where id = $1
		returning failed_attempts
	`, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, gmpAuth.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("pgstore: increment failed logins: %w", err)
	}
	return n, nil
}

func (s *Store) LockUser(ctx context.Context, userID string, until time.Time) error {
	return s.updateUser(ctx, "lock user", `update users set locked_until = $2 where id = $1`, userID, nullTime(until))
}

func (s *Store) ResetLoginFailures(ctx context.Context, userID string) error {
	return s.updateUser(ctx, "reset login failures",
		`update users set failed_attempts = 0, locked_until = null where id = $1`, userID)
}

func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	return s.updateUser(ctx, "record login",
		`update users set last_login_at = $2, last_login_ip = $3 where id = $1`, userID, nullTime(at), ip)
}

func (s *Store) SetMfa(ctx context.Context, userID string, enabled bool, secret string) error {
	return s.updateUser(ctx, "set mfa",
		`update users set mfa_enabled = $2, mfa_secret = $3 where id = $1`, userID, enabled, secret)
}

// ClaimTotpStep advances totp_last_step only forwards, so of two requests
// presenting the same code exactly one sees true.
func (s *Store) ClaimTotpStep(ctx context.Context, userID string, step int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update users set totp_last_step = $2
		where id = $1 and totp_last_step < $2
	`, userID, step)
	if err != nil {
		return false, fmt.Errorf("pgstore: claim totp step: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `select 1 from users where id = $1`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, gmpAuth.ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("pgstore: claim totp step: %w", err)
	}
	return false, nil
}

func (s *Store) SetAccountStatus(ctx context.Context, userID string, status gmpAuth.AccountStatus) error {
	return s.updateUser(ctx, "set account status",
		`update users set status = $2 where id = $1`, userID, int16(status))
}

func (s *Store) updateUser(ctx context.Context, op, query, userID string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return fmt.Errorf("pgstore: %s: %w", op, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return gmpAuth.ErrUserNotFound
	}
	return nil
}

// UpdatePassword swaps the hash only while it still equals PreviousHash and
// trims the history to HistoryLimit entries in the same transaction.
func (s *Store) UpdatePassword(ctx context.Context, up gmpAuth.PasswordUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: update password: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users
		set password_hash = $2, password_changed_at = $3, password_expires_at = $4
		where id = $1 and password_hash = $5
	`, up.UserID, up.NewHash, nullTime(up.ChangedAt), nullTime(up.ExpiresAt), up.PreviousHash)
	if err != nil {
		return fmt.Errorf("pgstore: update password: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `select 1 from users where id = $1`, up.UserID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return gmpAuth.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("pgstore: update password: %w", err)
		}
		return gmpAuth.ErrPasswordChangeConflict
	}

	if up.HistoryLimit > 0 {
		if _, err := tx.ExecContext(ctx, `
			insert into password_history (user_id, password_hash, created_at) values ($1, $2, $3)
		`, up.UserID, up.PreviousHash, up.ChangedAt.UTC()); err != nil {
			return fmt.Errorf("pgstore: append password history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			delete from password_history
			where user_id = $1 and id not in (
				select id from password_history where user_id = $1 order by id desc limit $2
			)
		`, up.UserID, up.HistoryLimit); err != nil {
			return fmt.Errorf("pgstore: trim password history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: update password: %w", err)
	}
	return nil
}

// PasswordHistory returns up to limit previous hashes, newest first.
func (s *Store) PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select password_hash from password_history
		where user_id = $1
		order by id desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: password history: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("pgstore: scan password history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SetRecoveryCodes replaces the whole set.
func (s *Store) SetRecoveryCodes(ctx context.Context, userID string, hashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: set recovery codes: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_recovery_codes where user_id = $1`, userID); err != nil {
		return fmt.Errorf("pgstore: clear recovery codes: %w", err)
	}
	for i, h := range hashes {
		if _, err := tx.ExecContext(ctx, `
			insert into user_recovery_codes (user_id, position, code_hash) values ($1, $2, $3)
		`, userID, i, h); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return gmpAuth.ErrUserNotFound
			}
			return fmt.Errorf("pgstore: insert recovery code: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: set recovery codes: %w", err)
	}
	return nil
}

// ConsumeRecoveryCode deletes the matching hash. Only one of two
// concurrent callers sees true.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from user_recovery_codes where user_id = $1 and code_hash = $2
	`, userID, hash)
	if err != nil {
		return false, fmt.Errorf("pgstore: consume recovery code: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
