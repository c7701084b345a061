package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/V4T54L/inboxguard/internal/adapter/repository/memory"
	"github.com/V4T54L/inboxguard/internal/channelauth"
	"github.com/V4T54L/inboxguard/internal/domain"
	"github.com/V4T54L/inboxguard/internal/domain/mocks"
)

func setupRealtime(t *testing.T) (*httptest.Server, *mocks.MockCredentialStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	creds := mocks.NewMockCredentialStore()
	creds.AddUser("token-jane", domain.User{ID: 1, Name: "Jane"}, 7)
	cache := channelauth.NewCache(memory.NewKVStore(nil), creds, logger, nil, time.Hour)

	srv := httptest.NewServer(NewRealtimeHandler(cache, logger, nil))
	t.Cleanup(srv.Close)
	return srv, creds
}

func dial(t *testing.T, srv *httptest.Server) (context.Context, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("failed to dial realtime endpoint: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return ctx, conn
}

func roundTrip(t *testing.T, ctx context.Context, conn *websocket.Conn, frame RealtimeFrame) RealtimeFrame {
	t.Helper()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
	var reply RealtimeFrame
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return reply
}

func TestRealtimeHandler_Subscribe(t *testing.T) {
	srv, creds := setupRealtime(t)
	ctx, conn := dial(t, srv)

	reply := roundTrip(t, ctx, conn, RealtimeFrame{Type: FrameSubscribe, AccountID: 7, Token: "token-jane"})
	if reply.Type != FrameSubscribed || reply.AccountID != 7 {
		t.Errorf("expected subscribed to 7, got %+v", reply)
	}

	reply = roundTrip(t, ctx, conn, RealtimeFrame{Type: FrameSubscribe, AccountID: 9, Token: "token-jane"})
	if reply.Type != FrameRejected || reply.Reason != channelauth.ReasonNoAccess {
		t.Errorf("expected no_access rejection, got %+v", reply)
	}

	for i := 0; i < 3; i++ {
		reply = roundTrip(t, ctx, conn, RealtimeFrame{Type: FrameSubscribe, AccountID: 7, Token: "forged"})
		if reply.Type != FrameRejected {
			t.Fatalf("expected rejection, got %+v", reply)
		}
	}
	if reply.Reason != channelauth.ReasonBlacklisted {
		t.Errorf("expected repeated rejection from the blacklist, got %q", reply.Reason)
	}
	if resolves, _, _ := creds.Calls(); resolves != 3 {
		t.Errorf("expected 3 credential lookups (jane twice, forged once), got %d", resolves)
	}

	reply = roundTrip(t, ctx, conn, RealtimeFrame{Type: FrameUnsubscribe, AccountID: 7})
	if reply.Type != FrameUnsubscribed {
		t.Errorf("expected unsubscribed, got %+v", reply)
	}
	reply = roundTrip(t, ctx, conn, RealtimeFrame{Type: "typing"})
	if reply.Type != FrameError || reply.Reason != "unknown_frame" {
		t.Errorf("expected unknown_frame error, got %+v", reply)
	}
	reply = roundTrip(t, ctx, conn, RealtimeFrame{Type: FrameSubscribe})
	if reply.Type != FrameError || reply.Reason != "invalid_frame" {
		t.Errorf("expected invalid_frame error, got %+v", reply)
	}
}

func TestRealtimeHandler_LogoutClearsCachedDecision(t *testing.T) {
	srv, creds := setupRealtime(t)
	ctx, conn := dial(t, srv)

	if reply := roundTrip(t, ctx, conn, RealtimeFrame{Type: FrameSubscribe, AccountID: 7, Token: "token-jane"}); reply.Type != FrameSubscribed {
		t.Fatalf("expected subscribed, got %+v", reply)
	}
	if reply := roundTrip(t, ctx, conn, RealtimeFrame{Type: FrameLogout}); reply.Type != FrameLoggedOut {
		t.Fatalf("expected logged_out, got %+v", reply)
	}
	var ignored RealtimeFrame
	if err := wsjson.Read(ctx, conn, &ignored); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected normal closure after logout, got %v", err)
	}

	// Without the logout the whitelist entry would keep this subscription valid.
	creds.Revoke(1, 7)
	ctx, conn = dial(t, srv)
	reply := roundTrip(t, ctx, conn, RealtimeFrame{Type: FrameSubscribe, AccountID: 7, Token: "token-jane"})
	if reply.Type != FrameRejected || reply.Reason != channelauth.ReasonNoAccess {
		t.Errorf("expected revalidation to reject, got %+v", reply)
	}
}
