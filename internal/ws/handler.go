package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/service"
)

var validate = validator.New()

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

// inbound is a client frame. Which fields matter depends on Type.
type inbound struct {
	Type         string `json:"type" validate:"required,oneof=typing_start typing_stop subscribe_detail unsubscribe_detail mark_read mark_received message"`
	TopicID      int64  `json:"topic_id" validate:"gte=0"`
	SeqID        int64  `json:"seq_id" validate:"gte=0"`
	Content      string `json:"content"`
	ReplyToSeqID *int64 `json:"reply_to_seq_id" validate:"omitempty,gt=0"`
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token, nil
		}
	}

	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol),
// registers the connection with the presence registry, then dispatches events:
//   - typing_start / typing_stop         -> typing indicator with server-side timeout
//   - subscribe_detail / unsubscribe_detail -> group roster updates
//   - mark_read / mark_received          -> conditional cursor advance
//   - message                            -> send to topic members
func MakeHandler(
	presenceSvc *service.PresenceService,
	msgSvc *service.MessageService,
	tokens *security.TokenService,
	allowedOrigins []string,
	log *slog.Logger,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := tokens.UserID(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := newClient(conn, userID, log)
		defer c.close()
		go c.writePump()

		ctx := context.Background()
		connID, err := presenceSvc.Connect(ctx, userID, c)
		if err != nil {
			log.Error("ws connect", "user_id", userID, "error", err)
			return
		}
		defer presenceSvc.Disconnect(ctx, userID, connID)

		s := &session{
			userID:   userID,
			connID:   connID,
			client:   c,
			presence: presenceSvc,
			messages: msgSvc,
			log:      log.With("user_id", userID, "connection_id", connID),
		}

		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Warn("ws unexpected close", "error", err)
				}
				return
			}
			s.handle(ctx, data)
		}
	}
}

// session handles the frames of one connection.
type session struct {
	userID   int64
	connID   string
	client   *client
	presence *service.PresenceService
	messages *service.MessageService
	log      *slog.Logger
}

func (s *session) handle(ctx context.Context, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.sendError("malformed frame")
		return
	}
	if err := validate.Struct(in); err != nil {
		s.sendError(fmt.Sprintf("invalid %q frame", in.Type))
		return
	}
	if in.Type != "typing_stop" && in.TopicID == 0 {
		s.sendError(in.Type + " requires topic_id")
		return
	}

	switch in.Type {
	case "typing_start":
		s.report(in.Type, s.presence.StartTyping(ctx, s.userID, in.TopicID))

	case "typing_stop":
		s.presence.StopTyping(ctx, s.userID)

	case "subscribe_detail":
		online, err := s.presence.SubscribeDetail(ctx, s.userID, in.TopicID)
		if err != nil {
			s.report(in.Type, err)
			return
		}
		_ = s.client.Send(map[string]any{
			"type":              EventGroupOnlineMembers,
			"topic_id":          in.TopicID,
			"online_member_ids": online,
		})

	case "unsubscribe_detail":
		s.presence.UnsubscribeDetail(s.userID, in.TopicID)

	case "mark_read", "mark_received":
		if in.SeqID == 0 {
			s.sendError(in.Type + " requires seq_id")
			return
		}
		mark := s.messages.MarkRead
		if in.Type == "mark_received" {
			mark = s.messages.MarkReceived
		}
		_, err := mark(ctx, s.userID, s.connID, in.TopicID, in.SeqID)
		s.report(in.Type, err)

	case "message":
		_, err := s.messages.Send(ctx, s.userID, service.MessageCreateInput{
			TopicID:      in.TopicID,
			Content:      in.Content,
			ReplyToSeqID: in.ReplyToSeqID,
		})
		s.report(in.Type, err)
	}
}

// report tells the client why an event failed. Unexpected errors are logged
// and answered generically.
func (s *session) report(event string, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotMember), errors.Is(err, domain.ErrNotFound):
		s.sendError("not allowed for this topic")
	case errors.Is(err, domain.ErrNotGroup):
		s.sendError("topic is not a group")
	case errors.Is(err, domain.ErrForbidden):
		s.sendError("forbidden")
	case errors.Is(err, domain.ErrInvalidInput):
		s.sendError(err.Error())
	default:
		s.log.Error("ws event failed", "event", event, "error", err)
		s.sendError("failed to process " + event)
	}
}

func (s *session) sendError(msg string) {
	_ = s.client.Send(map[string]any{
		"type":    EventError,
		"message": msg,
	})
}
