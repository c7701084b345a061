package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/V4T54L/inboxguard/internal/adapter/repository/memory"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/tenancy"
)

func TestTenantHandler_ListInboxes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enforcer := tenancy.NewEnforcer(domain.EntityAccount, domain.TenantScopedEntities, logger, nil)
	store := memory.NewStore(enforcer, nil)
	store.SeedInbox(domain.Inbox{ID: 1, AccountID: 7, Name: "Acme"})
	store.SeedInbox(domain.Inbox{ID: 2, AccountID: 8, Name: "Globex"})
	handler := NewTenantHandler(store.Inboxes(), store.Conversations(), logger)

	list := func(ctx context.Context) []domain.Inbox {
		t.Helper()
		rr := httptest.NewRecorder()
		handler.ListInboxes(rr, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var body struct {
			Payload []domain.Inbox `json:"payload"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Payload == nil {
			t.Fatal("expected an empty list, got null")
		}
		return body.Payload
	}

	t.Run("No Tenant Bound", func(t *testing.T) {
		ctx, _ := tenancy.NewContext(context.Background())
		if inboxes := list(ctx); len(inboxes) != 0 {
			t.Errorf("expected no inboxes without tenant, got %d", len(inboxes))
		}
	})

	t.Run("Tenant Bound", func(t *testing.T) {
		ctx, tc := tenancy.NewContext(context.Background())
		tc.SetAccount(&domain.Account{ID: 8})
		inboxes := list(ctx)
		if len(inboxes) != 1 || inboxes[0].AccountID != 8 {
			t.Errorf("expected only account 8's inbox, got %+v", inboxes)
		}
	})
}

func TestTenantHandler_ListConversations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enforcer := tenancy.NewEnforcer(domain.EntityAccount, domain.TenantScopedEntities, logger, nil)
	store := memory.NewStore(enforcer, nil)
	handler := NewTenantHandler(store.Inboxes(), store.Conversations(), logger)

	ctx, tc := tenancy.NewContext(context.Background())
	tc.SetAccount(&domain.Account{ID: 7})
	if err := store.Conversations().Create(ctx, &domain.Conversation{InboxID: 1, ContactID: 1}); err != nil {
		t.Fatal(err)
	}
	other, otc := tenancy.NewContext(context.Background())
	otc.SetAccount(&domain.Account{ID: 8})

	rr := httptest.NewRecorder()
	handler.ListConversations(rr, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(other))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != `{"payload":[]}` {
		t.Errorf("expected empty payload for account 8, got %s", body)
	}
}
