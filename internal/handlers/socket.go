package handlers

import (
	"net/http"
	"sync"
	"time"

	"carechat/internal/enums"
	"carechat/internal/errs"
	"carechat/internal/models"
	socketModels "carechat/internal/models/socket"
	"carechat/internal/msgs"
	"carechat/internal/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	socketWriteWait      = 10 * time.Second
	socketMaxMessageSize = 64 * 1024
)

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// socketSession is one connected device: its websocket and the realtime
// state behind it. Writes go through send so the pump and the reader never
// write concurrently.
type socketSession struct {
	id      string
	conn    *websocket.Conn
	claims  *models.Claims
	manager *realtime.SubscriptionManager
	logger  zerolog.Logger

	writeMu sync.Mutex
}

func (ss *socketSession) send(event socketModels.ServerEvent) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	if err := ss.conn.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
		return err
	}
	return ss.conn.WriteJSON(event)
}

// pump forwards session updates until the manager closes its channel or the
// connection stops accepting writes.
func (ss *socketSession) pump(done chan<- struct{}) {
	defer close(done)
	for update := range ss.manager.Updates() {
		if err := ss.send(update); err != nil {
			ss.logger.Debug().Err(err).Msg("socket write failed")
			_ = ss.conn.Close()
			// Drain so the dispatcher never blocks on a dead client.
			for range ss.manager.Updates() {
			}
			return
		}
	}
}

func (ss *socketSession) sendError(conversationID uint, err error) {
	text := err.Error()
	if errs.KindOf(err) == errs.KindInternal {
		ss.logger.Error().Err(err).Uint("conversation_id", conversationID).Msg("socket event failed")
		text = msgs.MsgInternalError
	}
	event := socketModels.ServerEvent{
		ID:             uuid.NewString(),
		Event:          enums.SOCKET_EVENT_ERROR,
		ConversationID: conversationID,
		Payload:        socketModels.ErrorPayload{Error: text, Kind: errs.KindOf(err).String()},
		At:             time.Now(),
	}
	if err := ss.send(event); err != nil {
		ss.logger.Debug().Err(err).Msg("socket error not delivered")
	}
}
