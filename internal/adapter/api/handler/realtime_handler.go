package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/V4T54L/inboxguard/internal/channelauth"
)

const (
	realtimeReadLimit    = 16 << 10
	realtimeWriteTimeout = 5 * time.Second
)

// Frame types exchanged on the realtime socket.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameLogout       = "logout"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameRejected     = "rejected"
	FrameLoggedOut    = "logged_out"
	FrameError        = "error"
)

// RealtimeFrame is one JSON message on the realtime socket in either direction.
type RealtimeFrame struct {
	Type      string `json:"type"`
	AccountID int64  `json:"account_id,omitempty"`
	Token     string `json:"token,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ChannelAuthorizer validates subscriptions and forgets cached decisions.
type ChannelAuthorizer interface {
	Validate(ctx context.Context, credential string, accountID int64) (channelauth.Result, error)
	Clear(ctx context.Context, credential string, accountID int64) error
}

// RealtimeHandler upgrades to a websocket and serves account channel
// subscriptions. A connection may subscribe to several accounts; every
// subscribe frame is checked through the auth cache instead of a full
// credential lookup.
type RealtimeHandler struct {
	auth           ChannelAuthorizer
	logger         *slog.Logger
	originPatterns []string
	writeTimeout   time.Duration
}

func NewRealtimeHandler(auth ChannelAuthorizer, logger *slog.Logger, originPatterns []string) *RealtimeHandler {
	return &RealtimeHandler{
		auth:           auth,
		logger:         logger.With("component", "realtime_handler"),
		originPatterns: originPatterns,
		writeTimeout:   realtimeWriteTimeout,
	}
}

func (h *RealtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("failed to accept realtime connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(realtimeReadLimit)

	ctx := r.Context()
	subscriptions := make(map[int64]string)
	for {
		var frame RealtimeFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					h.logger.Info("realtime connection closed", "remote_addr", r.RemoteAddr, "error", err)
				}
			}
			return
		}

		reply := h.handleFrame(ctx, subscriptions, frame)
		if err := h.write(ctx, conn, reply); err != nil {
			h.logger.Info("failed to write realtime frame", "remote_addr", r.RemoteAddr, "error", err)
			return
		}
		if reply.Type == FrameLoggedOut {
			conn.Close(websocket.StatusNormalClosure, "logged out")
			return
		}
	}
}

func (h *RealtimeHandler) handleFrame(ctx context.Context, subscriptions map[int64]string, frame RealtimeFrame) RealtimeFrame {
	switch frame.Type {
	case FrameSubscribe:
		if frame.AccountID <= 0 {
			return RealtimeFrame{Type: FrameError, Reason: "invalid_frame"}
		}
		result, err := h.auth.Validate(ctx, frame.Token, frame.AccountID)
		if err != nil {
			h.logger.Error("failed to validate subscription", "account_id", frame.AccountID, "error", err)
			return RealtimeFrame{Type: FrameError, AccountID: frame.AccountID, Reason: "unavailable"}
		}
		if !result.Valid {
			return RealtimeFrame{Type: FrameRejected, AccountID: frame.AccountID, Reason: result.Reason}
		}
		subscriptions[frame.AccountID] = frame.Token
		return RealtimeFrame{Type: FrameSubscribed, AccountID: frame.AccountID}

	case FrameUnsubscribe:
		delete(subscriptions, frame.AccountID)
		return RealtimeFrame{Type: FrameUnsubscribed, AccountID: frame.AccountID}

	case FrameLogout:
		if frame.Token != "" && frame.AccountID > 0 {
			subscriptions[frame.AccountID] = frame.Token
		}
		for accountID, token := range subscriptions {
			if err := h.auth.Clear(ctx, token, accountID); err != nil {
				h.logger.Warn("failed to clear cached channel auth on logout", "account_id", accountID, "error", err)
			}
			delete(subscriptions, accountID)
		}
		return RealtimeFrame{Type: FrameLoggedOut}
	}
	return RealtimeFrame{Type: FrameError, Reason: "unknown_frame"}
}

func (h *RealtimeHandler) write(ctx context.Context, conn *websocket.Conn, frame RealtimeFrame) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}
