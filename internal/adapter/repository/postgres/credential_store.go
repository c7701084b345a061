package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/V4T54L/inboxguard/internal/domain"
)

// CredentialStore implements domain.CredentialStore and
// domain.MembershipRepository. Access tokens are stored as SHA-256 digests.
type CredentialStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCredentialStore(db *sql.DB, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{db: db, logger: logger.With("component", "credential_store")}
}

// TokenDigest is the value stored in access_tokens.token_digest.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *CredentialStore) ResolveCredential(ctx context.Context, credential string) (*domain.User, error) {
	query := `SELECT u.id, u.name, u.email FROM access_tokens t JOIN users u ON u.id = t.user_id WHERE t.token_digest = $1 AND t.revoked_at IS NULL`

	var u domain.User
	err := s.db.QueryRowContext(ctx, query, TokenDigest(credential)).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		s.logger.Error("failed to resolve access token in database", "error", err)
		return nil, fmt.Errorf("failed to resolve access token: %w", err)
	}
	return &u, nil
}

func (s *CredentialStore) FindSubject(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT id, name, email FROM users WHERE id = $1`

	var u domain.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &u, nil
}

// HasAccess reports whether userID is a member of an active accountID.
func (s *CredentialStore) HasAccess(ctx context.Context, userID, accountID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM account_users au JOIN accounts a ON a.id = au.account_id WHERE au.user_id = $1 AND au.account_id = $2 AND a.status = $3)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, userID, accountID, domain.AccountStatusActive).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check membership of user %d in account %d: %w", userID, accountID, err)
	}
	return ok, nil
}

func (s *CredentialStore) FindActorLink(ctx context.Context, userID, accountID int64) (*domain.AccountActorLink, error) {
	query := `SELECT account_id, user_id, role FROM account_users WHERE user_id = $1 AND account_id = $2`

	var l domain.AccountActorLink
	err := s.db.QueryRowContext(ctx, query, userID, accountID).Scan(&l.AccountID, &l.UserID, &l.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership of user %d in account %d: %w", userID, accountID, err)
	}
	return &l, nil
}
