package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

func setupDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *tenancy.Enforcer) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return db, mock, tenancy.NewEnforcer(domain.EntityAccount, domain.TenantScopedEntities, logger, nil)
}

func tenantCtx(accountID int64) context.Context {
	ctx, tc := tenancy.NewContext(context.Background())
	tc.SetAccount(&domain.Account{ID: accountID, Status: domain.AccountStatusActive})
	return ctx
}

var inboxCols = []string{"id", "account_id", "name", "channel_type"}

func TestInboxRepository_ListIsScoped(t *testing.T) {
	t.Run("No Tenant Bound Returns Empty", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewInboxRepository(db, enforcer)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, account_id, name, channel_type FROM inboxes WHERE FALSE ORDER BY id`)).
			WithoutArgs().
			WillReturnRows(sqlmock.NewRows(inboxCols))

		inboxes, err := repo.List(context.Background())
		if err != nil {
			t.Fatalf("expected no error without a tenant, got %v", err)
		}
		if inboxes == nil || len(inboxes) != 0 {
			t.Errorf("expected an empty, non-nil list, got %#v", inboxes)
		}
	})

	t.Run("Tenant Bound Filters By Account", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewInboxRepository(db, enforcer)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, account_id, name, channel_type FROM inboxes WHERE account_id = $1 ORDER BY id`)).
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows(inboxCols).
				AddRow(1, 7, "Support", "whatsapp").
				AddRow(2, 7, "Sales", "instagram"))

		inboxes, err := repo.List(tenantCtx(7))
		if err != nil {
			t.Fatal(err)
		}
		if len(inboxes) != 2 {
			t.Fatalf("expected 2 inboxes, got %d", len(inboxes))
		}
		for _, in := range inboxes {
			if in.AccountID != 7 {
				t.Errorf("inbox %d belongs to account %d", in.ID, in.AccountID)
			}
		}
	})

	t.Run("Without Scope Is Explicit", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewInboxRepository(db, enforcer)

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, account_id, name, channel_type FROM inboxes WHERE TRUE ORDER BY id`)).
			WillReturnRows(sqlmock.NewRows(inboxCols).AddRow(1, 7, "Support", "whatsapp").AddRow(9, 8, "Other", "web"))
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, account_id, name, channel_type FROM inboxes WHERE account_id = $1 ORDER BY id`)).
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows(inboxCols).AddRow(1, 7, "Support", "whatsapp"))

		all, err := repo.WithoutScope().List(tenantCtx(7))
		if err != nil || len(all) != 2 {
			t.Fatalf("expected 2 rows across tenants, got %d (%v)", len(all), err)
		}
		// The original repository stays scoped.
		if _, err := repo.List(tenantCtx(7)); err != nil {
			t.Fatal(err)
		}
	})
}

func TestInboxRepository_FindByID(t *testing.T) {
	db, mock, enforcer := setupDB(t)
	repo := NewInboxRepository(db, enforcer)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, account_id, name, channel_type FROM inboxes WHERE id = $1 AND account_id = $2`)).
		WithArgs(9, 7).
		WillReturnRows(sqlmock.NewRows(inboxCols))

	if _, err := repo.FindByID(tenantCtx(7), 9); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for another tenant's inbox, got %v", err)
	}
}

func TestAccountRepository_RootIsUnfiltered(t *testing.T) {
	db, mock, enforcer := setupDB(t)
	repo := NewAccountRepository(db, enforcer)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, status, created_at FROM accounts WHERE id = $1 AND TRUE`)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "status", "created_at"}).AddRow(7, "Acme", "active", created))

	acct, err := repo.FindByID(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if acct.ID != 7 || !acct.Active() {
		t.Errorf("unexpected account %+v", acct)
	}
}

const insertMessage = `INSERT INTO messages (account_id, inbox_id, conversation_id, source_id, content, message_type) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (source_id) DO NOTHING RETURNING id, created_at`

func TestMessageRepository_Create(t *testing.T) {
	t.Run("Success Stamps Account", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewMessageRepository(db, enforcer)

		mock.ExpectQuery(regexp.QuoteMeta(insertMessage)).
			WithArgs(7, 3, 11, "wamid.ABC123", "hello", domain.MessageTypeIncoming).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(100, time.Now()))

		m := &domain.Message{InboxID: 3, ConversationID: 11, SourceID: "wamid.ABC123", Content: "hello"}
		if err := repo.Create(tenantCtx(7), m); err != nil {
			t.Fatal(err)
		}
		if m.ID != 100 || m.AccountID != 7 {
			t.Errorf("unexpected message %+v", m)
		}
	})

	t.Run("Conflict Is Duplicate", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewMessageRepository(db, enforcer)

		mock.ExpectQuery(regexp.QuoteMeta(insertMessage)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

		err := repo.Create(tenantCtx(7), &domain.Message{InboxID: 3, ConversationID: 11, SourceID: "wamid.ABC123"})
		if !errors.Is(err, domain.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("Unique Violation Is Duplicate", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewMessageRepository(db, enforcer)

		mock.ExpectQuery(regexp.QuoteMeta(insertMessage)).
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

		err := repo.Create(tenantCtx(7), &domain.Message{InboxID: 3, ConversationID: 11, SourceID: "wamid.ABC123"})
		if !errors.Is(err, domain.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("No Tenant Rejects Write", func(t *testing.T) {
		db, _, enforcer := setupDB(t)
		repo := NewMessageRepository(db, enforcer)

		err := repo.Create(context.Background(), &domain.Message{SourceID: "wamid.X"})
		if !errors.Is(err, domain.ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
	})

	t.Run("Foreign Account Rejects Write", func(t *testing.T) {
		db, _, enforcer := setupDB(t)
		repo := NewMessageRepository(db, enforcer)

		err := repo.Create(tenantCtx(7), &domain.Message{AccountID: 8, SourceID: "wamid.X"})
		if !errors.Is(err, domain.ErrCrossTenant) {
			t.Errorf("expected ErrCrossTenant, got %v", err)
		}
	})
}

func TestMessageRepository_ExistsBySourceID(t *testing.T) {
	db, mock, enforcer := setupDB(t)
	repo := NewMessageRepository(db, enforcer)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM messages WHERE source_id = $1 AND account_id = $2)`)).
		WithArgs("wamid.ABC123", 7).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsBySourceID(tenantCtx(7), "wamid.ABC123")
	if err != nil || !exists {
		t.Errorf("expected processed message, got %v (%v)", exists, err)
	}
}

func TestContactRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewContactRepository(db, enforcer)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO contacts (account_id, source_id, name) VALUES ($1, $2, $3) ON CONFLICT (account_id, source_id) DO NOTHING RETURNING id, created_at`)).
			WithArgs(7, "15551234", "Jane").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(5, time.Now()))

		c := &domain.Contact{SourceID: "15551234", Name: "Jane"}
		if err := repo.Create(tenantCtx(7), c); err != nil {
			t.Fatal(err)
		}
		if c.ID != 5 || c.AccountID != 7 {
			t.Errorf("unexpected contact %+v", c)
		}
	})

	t.Run("Update Name Outside Tenant", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewContactRepository(db, enforcer)

		mock.ExpectExec(regexp.QuoteMeta(`UPDATE contacts SET name = $1 WHERE id = $2 AND FALSE`)).
			WithArgs("Jane", 5).
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := repo.UpdateName(context.Background(), 5, "Jane"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestConversationRepository(t *testing.T) {
	cols := []string{"id", "account_id", "inbox_id", "contact_id", "status", "last_activity_at", "created_at"}

	t.Run("Find Open", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewConversationRepository(db, enforcer)
		now := time.Now()

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, account_id, inbox_id, contact_id, status, last_activity_at, created_at FROM conversations WHERE inbox_id = $1 AND contact_id = $2 AND status = $3 AND account_id = $4 ORDER BY id DESC LIMIT 1`)).
			WithArgs(3, 5, "open", 7).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(11, 7, 3, 5, "open", now, now))

		c, err := repo.FindOpen(tenantCtx(7), 3, 5)
		if err != nil {
			t.Fatal(err)
		}
		if c.ID != 11 {
			t.Errorf("expected conversation 11, got %d", c.ID)
		}
	})

	t.Run("Create And Touch", func(t *testing.T) {
		db, mock, enforcer := setupDB(t)
		repo := NewConversationRepository(db, enforcer)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO conversations (account_id, inbox_id, contact_id, status, last_activity_at) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`)).
			WithArgs(7, 3, 5, "open", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, time.Now()))
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE conversations SET last_activity_at = GREATEST(last_activity_at, $1) WHERE id = $2 AND account_id = $3`)).
			WithArgs(sqlmock.AnyArg(), 11, 7).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ctx := tenantCtx(7)
		c := &domain.Conversation{InboxID: 3, ContactID: 5}
		if err := repo.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
		if c.Status != domain.ConversationStatusOpen || c.AccountID != 7 {
			t.Errorf("unexpected conversation %+v", c)
		}
		if err := repo.Touch(ctx, c.ID, time.Now()); err != nil {
			t.Fatal(err)
		}
	})
}

func TestCredentialStore(t *testing.T) {
	userCols := []string{"id", "name", "email"}

	t.Run("Resolve Uses Digest", func(t *testing.T) {
		db, mock, _ := setupDB(t)
		store := NewCredentialStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT u.id, u.name, u.email FROM access_tokens t JOIN users u ON u.id = t.user_id WHERE t.token_digest = $1 AND t.revoked_at IS NULL`)).
			WithArgs(TokenDigest("secret-token")).
			WillReturnRows(sqlmock.NewRows(userCols).AddRow(42, "Agent", "agent@example.com"))

		u, err := store.ResolveCredential(context.Background(), "secret-token")
		if err != nil || u.ID != 42 {
			t.Fatalf("expected user 42, got %+v (%v)", u, err)
		}
	})

	t.Run("Unknown Token", func(t *testing.T) {
		db, mock, _ := setupDB(t)
		store := NewCredentialStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))

		mock.ExpectQuery(regexp.QuoteMeta(`FROM access_tokens`)).
			WillReturnRows(sqlmock.NewRows(userCols))

		if _, err := store.ResolveCredential(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Has Access", func(t *testing.T) {
		db, mock, _ := setupDB(t)
		store := NewCredentialStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM account_users au JOIN accounts a ON a.id = au.account_id WHERE au.user_id = $1 AND au.account_id = $2 AND a.status = $3)`)).
			WithArgs(42, 7, "active").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		ok, err := store.HasAccess(context.Background(), 42, 7)
		if err != nil || ok {
			t.Errorf("expected no access, got %v (%v)", ok, err)
		}
	})

	t.Run("Actor Link", func(t *testing.T) {
		db, mock, _ := setupDB(t)
		store := NewCredentialStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT account_id, user_id, role FROM account_users WHERE user_id = $1 AND account_id = $2`)).
			WithArgs(42, 7).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "user_id", "role"}).AddRow(7, 42, "administrator"))

		link, err := store.FindActorLink(context.Background(), 42, 7)
		if err != nil || link.Role != domain.RoleAdministrator {
			t.Errorf("expected administrator link, got %+v (%v)", link, err)
		}
	})
}

func TestTokenDigestIsStable(t *testing.T) {
	if TokenDigest("a") != TokenDigest("a") || TokenDigest("a") == TokenDigest("b") {
		t.Error("digest must be deterministic and distinguish tokens")
	}
	if len(TokenDigest("a")) != 64 {
		t.Errorf("expected hex sha256, got %q", TokenDigest("a"))
	}
}
