// Package channelauth memoizes credential checks for connection-oriented
// endpoints. A full check resolves the credential and verifies access to the
// account; its outcome is cached on the shared store as a whitelist or
// blacklist entry until the TTL elapses or the pair is cleared.
package channelauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/V4T54L/inboxguard/internal/adapter/metrics"
	"github.com/V4T54L/inboxguard/internal/domain"
)

// DefaultTTL is how long a cached decision is trusted.
const DefaultTTL = 24 * time.Hour

const (
	whitelistPrefix = "channel_auth:whitelist:"
	blacklistPrefix = "channel_auth:blacklist:"
)

// Rejection reasons reported in Result.Reason.
const (
	ReasonBlacklisted       = "blacklisted"
	ReasonInvalidCredential = "invalid_credential"
	ReasonNoAccess          = "no_access"
	ReasonMissingCredential = "missing_credential"
)

// Result is the outcome of Validate. Subject is set only when Valid.
type Result struct {
	Valid   bool
	Subject *domain.User
	Reason  string
}

type entry struct {
	Outcome   string `json:"outcome"`
	SubjectID int64  `json:"subject_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// WhitelistKey is the store key of a cached positive outcome. The raw
// credential never reaches the store.
func WhitelistKey(credential string, accountID int64) string {
	return whitelistPrefix + pairSuffix(credential, accountID)
}

// BlacklistKey is the store key of a cached negative outcome.
func BlacklistKey(credential string, accountID int64) string {
	return blacklistPrefix + pairSuffix(credential, accountID)
}

func pairSuffix(credential string, accountID int64) string {
	sum := sha256.Sum256([]byte(credential))
	return strconv.FormatInt(accountID, 10) + ":" + hex.EncodeToString(sum[:])
}

// Cache validates credentials against accounts and remembers the answer.
type Cache struct {
	store       domain.KeyValueStore
	credentials domain.CredentialStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	ttl         time.Duration
}

func NewCache(store domain.KeyValueStore, credentials domain.CredentialStore, logger *slog.Logger, m *metrics.Metrics, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:       store,
		credentials: credentials,
		logger:      logger.With("component", "channel_auth_cache"),
		metrics:     m,
		ttl:         ttl,
	}
}

// Validate reports whether credential may act on accountID. Cached outcomes
// short-circuit the credential store. A store outage falls through to the full
// check. Credential store errors are returned and never cached.
func (c *Cache) Validate(ctx context.Context, credential string, accountID int64) (Result, error) {
	if credential == "" {
		return Result{Reason: ReasonMissingCredential}, nil
	}
	whiteKey := WhitelistKey(credential, accountID)
	blackKey := BlacklistKey(credential, accountID)
	logger := c.logger.With("account_id", accountID)

	if _, found, err := c.lookup(ctx, blackKey); err != nil {
		logger.Warn("blacklist lookup failed, running full validation", "error", err)
	} else if found {
		c.observe("blacklist_hit")
		return Result{Reason: ReasonBlacklisted}, nil
	}

	cached, found, err := c.lookup(ctx, whiteKey)
	if err != nil {
		logger.Warn("whitelist lookup failed, running full validation", "error", err)
	} else if found {
		subject, err := c.credentials.FindSubject(ctx, cached.SubjectID)
		switch {
		case err == nil:
			c.observe("whitelist_hit")
			return Result{Valid: true, Subject: subject}, nil
		case errors.Is(err, domain.ErrNotFound):
			logger.Info("cached subject no longer exists, revalidating", "subject_id", cached.SubjectID)
			c.delete(ctx, logger, whiteKey)
		default:
			return Result{}, fmt.Errorf("failed to load cached subject %d: %w", cached.SubjectID, err)
		}
	}

	c.observe("miss")
	return c.validateFull(ctx, logger, credential, accountID)
}

func (c *Cache) validateFull(ctx context.Context, logger *slog.Logger, credential string, accountID int64) (Result, error) {
	subject, err := c.credentials.ResolveCredential(ctx, credential)
	if errors.Is(err, domain.ErrNotFound) {
		c.deny(ctx, logger, credential, accountID, ReasonInvalidCredential)
		return Result{Reason: ReasonInvalidCredential}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve credential: %w", err)
	}

	ok, err := c.credentials.HasAccess(ctx, subject.ID, accountID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check access of user %d to account %d: %w", subject.ID, accountID, err)
	}
	if !ok {
		c.deny(ctx, logger, credential, accountID, ReasonNoAccess)
		return Result{Reason: ReasonNoAccess}, nil
	}

	c.allow(ctx, logger, credential, accountID, subject.ID)
	return Result{Valid: true, Subject: subject}, nil
}

// RemoveFromWhitelist drops a cached positive outcome.
func (c *Cache) RemoveFromWhitelist(ctx context.Context, credential string, accountID int64) error {
	if _, err := c.store.Delete(ctx, WhitelistKey(credential, accountID)); err != nil {
		return fmt.Errorf("failed to remove whitelist entry: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Clear drops both cached outcomes for the pair so the next Validate runs the
// full check.
func (c *Cache) Clear(ctx context.Context, credential string, accountID int64) error {
	if _, err := c.store.Delete(ctx, WhitelistKey(credential, accountID), BlacklistKey(credential, accountID)); err != nil {
		return fmt.Errorf("failed to clear channel auth entries: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (c *Cache) lookup(ctx context.Context, key string) (entry, bool, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.observe("store_error")
		return entry{}, false, err
	}
	if !found {
		return entry{}, false, nil
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// Unreadable entries count as misses and are overwritten by the full check.
		return entry{}, false, nil
	}
	return e, true, nil
}

func (c *Cache) allow(ctx context.Context, logger *slog.Logger, credential string, accountID, subjectID int64) {
	c.write(ctx, logger, WhitelistKey(credential, accountID), entry{Outcome: "allow", SubjectID: subjectID})
	c.delete(ctx, logger, BlacklistKey(credential, accountID))
}

func (c *Cache) deny(ctx context.Context, logger *slog.Logger, credential string, accountID int64, reason string) {
	c.write(ctx, logger, BlacklistKey(credential, accountID), entry{Outcome: "deny", Reason: reason})
	c.delete(ctx, logger, WhitelistKey(credential, accountID))
}

// Cache writes are best effort; a failed write only costs a later full check.
func (c *Cache) write(ctx context.Context, logger *slog.Logger, key string, e entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		logger.Error("failed to encode channel auth entry", "error", err)
		return
	}
	if err := c.store.Set(ctx, key, string(raw), c.ttl); err != nil {
		logger.Warn("failed to cache channel auth outcome", "outcome", e.Outcome, "error", err)
	}
}

func (c *Cache) delete(ctx context.Context, logger *slog.Logger, key string) {
	if _, err := c.store.Delete(ctx, key); err != nil {
		logger.Warn("failed to drop channel auth entry", "error", err)
	}
}

func (c *Cache) observe(result string) {
	if c.metrics != nil {
		c.metrics.AuthCacheLookups.WithLabelValues(result).Inc()
	}
}
