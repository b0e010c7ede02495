package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/interfaces"
	socketModels "carechat/internal/models/socket"
	"carechat/internal/msgs"
	"carechat/internal/realtime"
	"carechat/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// SocketChatHandler serves /ws/chat. A connection starts with the unread feed
// attached; the client then watches the conversations it has on screen.
type SocketChatHandler struct {
	mu          sync.Mutex
	upgrader    websocket.Upgrader
	sessions    map[string]*socketSession
	chatService *services.ChatService
	feed        interfaces.Feed
	clock       clockwork.Clock
	options     realtime.Options
	logger      zerolog.Logger
}

func NewSocketChatHandler(chatService *services.ChatService, changeFeed interfaces.Feed, clock clockwork.Clock, options realtime.Options, logger zerolog.Logger) *SocketChatHandler {
	return &SocketChatHandler{
		upgrader:    newUpgrader(),
		sessions:    make(map[string]*socketSession),
		chatService: chatService,
		feed:        changeFeed,
		clock:       clock,
		options:     options,
		logger:      logger,
	}
}

// HandleSocketChatRoute godoc
// @Summary      Realtime chat socket
// @Description  Upgrades to a websocket; pass the token in the Authorization header or the token query parameter
// @Tags         realtime
// @Security     BearerAuth
// @Param        token  query  string  false  "JWT"
// @Router       /ws/chat [get]
func (sch *SocketChatHandler) HandleSocketChatRoute(ctx *gin.Context) {
	claims, err := currentClaims(ctx)
	if err != nil {
		respondError(ctx, sch.logger, msgs.MsgYouMustLoginFirst, err)
		return
	}

	conn, err := sch.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		sch.logger.Warn().Err(err).Uint("user_id", claims.ID).Msg("failed to upgrade connection")
		return
	}

	session := &socketSession{
		id:     uuid.NewString(),
		conn:   conn,
		claims: claims,
	}
	session.logger = sch.logger.With().Str("session_id", session.id).Uint("user_id", claims.ID).Logger()
	session.manager = realtime.NewSubscriptionManager(claims.ID, sch.chatService, sch.feed, sch.clock, sch.options, session.logger)

	if err := session.manager.Start(); err != nil {
		session.logger.Warn().Err(err).Msg("session could not start")
		session.manager.Close()
		_ = conn.Close()
		return
	}

	sch.mu.Lock()
	sch.sessions[session.id] = session
	sch.mu.Unlock()
	session.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")

	pumped := make(chan struct{})
	go session.pump(pumped)

	sch.readLoop(session)

	sch.disconnect(session)
	<-pumped
}

// Close ends every open session.
func (sch *SocketChatHandler) Close() {
	sch.mu.Lock()
	sessions := make([]*socketSession, 0, len(sch.sessions))
	for _, session := range sch.sessions {
		sessions = append(sessions, session)
	}
	sch.mu.Unlock()

	for _, session := range sessions {
		_ = session.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(socketWriteWait))
		_ = session.conn.Close()
	}
}

// SessionCount reports how many sockets are connected.
func (sch *SocketChatHandler) SessionCount() int {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return len(sch.sessions)
}

func (sch *SocketChatHandler) readLoop(session *socketSession) {
	session.conn.SetReadLimit(socketMaxMessageSize)
	for {
		var event socketModels.SocketEvent
		if err := session.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				session.logger.Debug().Err(err).Msg("socket read failed")
			}
			return
		}
		if err := sch.handleEvent(session, &event); err != nil {
			session.sendError(event.ConversationID, err)
		}
	}
}

func (sch *SocketChatHandler) handleEvent(session *socketSession, event *socketModels.SocketEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), sch.chatService.FetchTimeout())
	defer cancel()

	userID := session.claims.ID
	switch event.Event {
	case enums.SOCKET_EVENT_WATCH:
		conversationID, err := watchTarget(event)
		if err != nil {
			return err
		}
		return session.manager.Watch(ctx, conversationID)
	case enums.SOCKET_EVENT_UNWATCH:
		conversationID, err := watchTarget(event)
		if err != nil {
			return err
		}
		return session.manager.Unwatch(conversationID)
	case enums.SOCKET_EVENT_SEND_MESSAGE:
		var payload socketModels.SendMessagePayload
		if err := decodePayload(event.Payload, &payload); err != nil {
			return err
		}
		_, err := sch.chatService.Send(ctx, event.ConversationID, userID, payload.Content)
		return err
	case enums.SOCKET_EVENT_SEEN_MESSAGE:
		var payload socketModels.SeenMessagePayload
		if len(event.Payload) > 0 {
			if err := decodePayload(event.Payload, &payload); err != nil {
				return err
			}
		}
		_, err := sch.chatService.MarkRead(ctx, event.ConversationID, userID, payload.At)
		return err
	case enums.SOCKET_EVENT_IS_TYPING:
		var payload socketModels.IsTypingPayload
		if err := decodePayload(event.Payload, &payload); err != nil {
			return err
		}
		return sch.chatService.SetTyping(ctx, event.ConversationID, session.claims, payload.IsTyping)
	case enums.SOCKET_EVENT_DELETE_MESSAGE:
		var payload socketModels.DeleteMessagePayload
		if err := decodePayload(event.Payload, &payload); err != nil {
			return err
		}
		if payload.MessageID == 0 {
			return errs.ErrInvalidMessageId
		}
		_, err := sch.chatService.DeleteMessage(ctx, payload.MessageID, userID)
		return err
	default:
		session.logger.Debug().Str("event", event.Event).Msg("unknown socket event")
		return errs.ErrInvalidRequest
	}
}

// disconnect clears the user's typing indicators, closes the realtime side and
// forgets the session.
func (sch *SocketChatHandler) disconnect(session *socketSession) {
	ctx, cancel := context.WithTimeout(context.Background(), sch.chatService.FetchTimeout())
	defer cancel()
	name := session.claims.DisplayName()
	for _, conversationID := range session.manager.Watching() {
		sch.chatService.Presence().SetTyping(ctx, conversationID, session.claims.ID, name, false)
	}

	session.manager.Close()
	_ = session.conn.Close()

	sch.mu.Lock()
	delete(sch.sessions, session.id)
	sch.mu.Unlock()
	session.logger.Info().Msg("client disconnected")
}

func watchTarget(event *socketModels.SocketEvent) (uint, error) {
	conversationID := event.ConversationID
	if len(event.Payload) > 0 {
		var payload socketModels.WatchPayload
		if err := decodePayload(event.Payload, &payload); err != nil {
			return 0, err
		}
		if payload.ConversationID != 0 {
			conversationID = payload.ConversationID
		}
	}
	if conversationID == 0 {
		return 0, errs.ErrInvalidConversationId
	}
	return conversationID, nil
}

func decodePayload(payload json.RawMessage, target any) error {
	if len(payload) == 0 {
		return errs.ErrInvalidRequest
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return errs.ErrInvalidRequest
	}
	return nil
}
