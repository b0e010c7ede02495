package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"carechat/internal/errs"
	"carechat/internal/models"
	"carechat/internal/msgs"
	"carechat/internal/services"
	"carechat/internal/utils"
	"carechat/internal/validators"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Pinger is anything the health endpoint can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RestHandler struct {
	chatService *services.ChatService
	checks      map[string]Pinger
	logger      zerolog.Logger
}

func NewRestHandler(chatService *services.ChatService, checks map[string]Pinger, logger zerolog.Logger) *RestHandler {
	return &RestHandler{
		chatService: chatService,
		checks:      checks,
		logger:      logger,
	}
}

// Health godoc
// @Summary      Service health
// @Description  Pings the store and the change feed
// @Tags         health
// @Produce      json
// @Success      200  {object}  models.Response
// @Failure      503  {object}  models.Response
// @Router       /health [get]
func (rh *RestHandler) Health(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(rh.checks))
	for name := range rh.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	health := models.HealthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := rh.checks[name].Ping(pingCtx); err != nil {
			rh.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			health.Status = "degraded"
			health.Checks[name] = err.Error()
			continue
		}
		health.Checks[name] = "ok"
	}

	if health.Status != "ok" {
		ctx.JSON(http.StatusServiceUnavailable, models.Response{
			Success: false,
			Message: msgs.MsgServiceDegraded,
			Data:    health,
		})
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgServiceHealthy, health)
}

// ListConversations godoc
// @Summary      Conversation list of the current user
// @Description  Family channel first, then by latest activity
// @Tags         conversations
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.Response{data=models.ConversationListResponse}
// @Failure      401  {object}  models.Response
// @Router       /api/conversations [get]
func (rh *RestHandler) ListConversations(ctx *gin.Context) {
	claims, err := currentClaims(ctx)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgYouMustLoginFirst, err)
		return
	}
	list, err := rh.chatService.ListConversations(ctx.Request.Context(), claims.ID)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgConversationListFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, list)
}

// CreateConversation godoc
// @Summary      Create a conversation
// @Description  Direct requests resolve to the existing pair conversation
// @Tags         conversations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      models.CreateConversationRequestBody  true  "Conversation"
// @Success      201   {object}  models.Response{data=models.ConversationIDResponse}
// @Failure      400   {object}  models.Response
// @Router       /api/conversations [post]
func (rh *RestHandler) CreateConversation(ctx *gin.Context) {
	claims, err := currentClaims(ctx)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgYouMustLoginFirst, err)
		return
	}

	var body models.CreateConversationRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		respondError(ctx, rh.logger, msgs.MsgConversationNotCreated, errs.ErrInvalidRequestBody)
		return
	}
	if failures := validators.ValidateConversationRequest(&body); len(failures) > 0 {
		respondErrors(ctx, http.StatusBadRequest, msgs.MsgConversationNotCreated, failures)
		return
	}

	id, err := rh.chatService.Registry().Create(ctx.Request.Context(), body.FamilyID, claims.ID, body.Kind, body.ParticipantIDs, body.Name)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgConversationNotCreated, err)
		return
	}
	respondOK(ctx, http.StatusCreated, msgs.MsgConversationCreated, models.ConversationIDResponse{ConversationID: id})
}

// FamilyChannel godoc
// @Summary      Get or create the family channel
// @Tags         conversations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      models.FamilyConversationRequestBody  true  "Family"
// @Success      200   {object}  models.Response{data=models.ConversationIDResponse}
// @Router       /api/conversations/family [post]
func (rh *RestHandler) FamilyChannel(ctx *gin.Context) {
	claims, err := currentClaims(ctx)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgYouMustLoginFirst, err)
		return
	}
	var body models.FamilyConversationRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		respondError(ctx, rh.logger, msgs.MsgConversationNotCreated, errs.ErrInvalidRequestBody)
		return
	}
	id, err := rh.chatService.Registry().GetOrCreateFamilyChannel(ctx.Request.Context(), body.FamilyID, claims.ID)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgConversationNotCreated, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, models.ConversationIDResponse{ConversationID: id})
}

// DirectConversation godoc
// @Summary      Get or create the direct conversation with a user
// @Tags         conversations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      models.DirectConversationRequestBody  true  "Peer"
// @Success      200   {object}  models.Response{data=models.ConversationIDResponse}
// @Router       /api/conversations/direct [post]
func (rh *RestHandler) DirectConversation(ctx *gin.Context) {
	claims, err := currentClaims(ctx)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgYouMustLoginFirst, err)
		return
	}
	var body models.DirectConversationRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		respondError(ctx, rh.logger, msgs.MsgConversationNotCreated, errs.ErrInvalidRequestBody)
		return
	}
	id, err := rh.chatService.Registry().GetOrCreateDirect(ctx.Request.Context(), body.FamilyID, claims.ID, body.UserID)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgConversationNotCreated, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, models.ConversationIDResponse{ConversationID: id})
}

// DeleteConversation godoc
// @Summary      Delete a conversation with its messages
// @Tags         conversations
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Conversation ID"
// @Success      200  {object}  models.Response
// @Failure      403  {object}  models.Response
// @Router       /api/conversations/{id} [delete]
func (rh *RestHandler) DeleteConversation(ctx *gin.Context) {
	claims, conversationID, ok := rh.conversationScope(ctx)
	if !ok {
		return
	}
	if err := rh.chatService.DeleteConversation(ctx.Request.Context(), conversationID, claims.ID); err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgConversationDeleted, models.ConversationIDResponse{ConversationID: conversationID})
}

// AddParticipant godoc
// @Summary      Add a participant
// @Description  Only members may add; adding an existing member is a no-op
// @Tags         conversations
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                               true  "Conversation ID"
// @Param        body  body      models.AddParticipantRequestBody  true  "User"
// @Success      200   {object}  models.Response
// @Router       /api/conversations/{id}/participants [post]
func (rh *RestHandler) AddParticipant(ctx *gin.Context) {
	claims, conversationID, ok := rh.conversationScope(ctx)
	if !ok {
		return
	}
	var body models.AddParticipantRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, errs.ErrInvalidRequestBody)
		return
	}
	if _, err := rh.chatService.Authorize(ctx.Request.Context(), conversationID, claims.ID); err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	if err := rh.chatService.Registry().AddParticipant(ctx.Request.Context(), conversationID, body.UserID); err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, nil)
}

// ListMessages godoc
// @Summary      Messages of a conversation
// @Description  Oldest first, deleted messages excluded; viewing marks the conversation read
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Conversation ID"
// @Success      200  {object}  models.Response{data=models.MessageListResponse}
// @Router       /api/conversations/{id}/messages [get]
func (rh *RestHandler) ListMessages(ctx *gin.Context) {
	claims, conversationID, ok := rh.conversationScope(ctx)
	if !ok {
		return
	}
	list, err := rh.chatService.ListMessages(ctx.Request.Context(), conversationID, claims.ID)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, list)
}

// SendMessage godoc
// @Summary      Send a message
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                    true  "Conversation ID"
// @Param        body  body      models.MessageRequest  true  "Message"
// @Success      201   {object}  models.Response{data=models.Message}
// @Failure      400   {object}  models.Response
// @Router       /api/conversations/{id}/messages [post]
func (rh *RestHandler) SendMessage(ctx *gin.Context) {
	claims, conversationID, ok := rh.conversationScope(ctx)
	if !ok {
		return
	}
	var body models.MessageRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		respondError(ctx, rh.logger, msgs.MsgMessageNotSent, errs.ErrInvalidRequestBody)
		return
	}
	message, err := rh.chatService.Send(ctx.Request.Context(), conversationID, claims.ID, body.Content)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgMessageNotSent, err)
		return
	}
	respondOK(ctx, http.StatusCreated, msgs.MsgMessageSent, message)
}

// DeleteMessage godoc
// @Summary      Delete one of your messages
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Message ID"
// @Success      200  {object}  models.Response{data=models.Message}
// @Failure      403  {object}  models.Response
// @Router       /api/messages/{id} [delete]
func (rh *RestHandler) DeleteMessage(ctx *gin.Context) {
	claims, err := currentClaims(ctx)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgYouMustLoginFirst, err)
		return
	}
	messageID, err := utils.ParseID(ctx.Param("id"), errs.ErrInvalidMessageId)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	message, err := rh.chatService.DeleteMessage(ctx.Request.Context(), messageID, claims.ID)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgMessageDeleted, message)
}

// MarkRead godoc
// @Summary      Mark a conversation read
// @Description  The cursor never moves backwards; omit at to use the server time
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                         true   "Conversation ID"
// @Param        body  body      models.MarkReadRequestBody  false  "Read up to"
// @Success      200   {object}  models.Response{data=models.Participant}
// @Router       /api/conversations/{id}/read [post]
func (rh *RestHandler) MarkRead(ctx *gin.Context) {
	claims, conversationID, ok := rh.conversationScope(ctx)
	if !ok {
		return
	}
	var body models.MarkReadRequestBody
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&body); err != nil {
			respondError(ctx, rh.logger, msgs.MsgOperationFailed, errs.ErrInvalidRequestBody)
			return
		}
	}
	participant, err := rh.chatService.MarkRead(ctx.Request.Context(), conversationID, claims.ID, body.At)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgConversationMarkedAsRead, participant)
}

// Readers godoc
// @Summary      Who has read a message
// @Description  The sender is never listed
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id         path      int  true  "Conversation ID"
// @Param        messageId  path      int  true  "Message ID"
// @Success      200        {object}  models.Response{data=models.ReadersResponse}
// @Router       /api/conversations/{id}/messages/{messageId}/readers [get]
func (rh *RestHandler) Readers(ctx *gin.Context) {
	claims, conversationID, ok := rh.conversationScope(ctx)
	if !ok {
		return
	}
	messageID, err := utils.ParseID(ctx.Param("messageId"), errs.ErrInvalidMessageId)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	readers, err := rh.chatService.ReadersOf(ctx.Request.Context(), conversationID, messageID, claims.ID)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, readers)
}

// SetTyping godoc
// @Summary      Set or clear your typing indicator
// @Tags         presence
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                       true  "Conversation ID"
// @Param        body  body      models.TypingRequestBody  true  "Typing"
// @Success      200   {object}  models.Response
// @Router       /api/conversations/{id}/typing [post]
func (rh *RestHandler) SetTyping(ctx *gin.Context) {
	claims, conversationID, ok := rh.conversationScope(ctx)
	if !ok {
		return
	}
	var body models.TypingRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, errs.ErrInvalidRequestBody)
		return
	}
	if err := rh.chatService.SetTyping(ctx.Request.Context(), conversationID, claims, body.IsTyping); err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, nil)
}

// TypingUsers godoc
// @Summary      Who is typing
// @Tags         presence
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Conversation ID"
// @Success      200  {object}  models.Response{data=[]models.TypingUser}
// @Router       /api/conversations/{id}/typing [get]
func (rh *RestHandler) TypingUsers(ctx *gin.Context) {
	claims, conversationID, ok := rh.conversationScope(ctx)
	if !ok {
		return
	}
	typing, err := rh.chatService.TypingUsers(ctx.Request.Context(), conversationID, claims.ID)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, typing)
}

// UnreadCount godoc
// @Summary      Unread badge count
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.Response{data=models.UnreadCountResponse}
// @Router       /api/unread [get]
func (rh *RestHandler) UnreadCount(ctx *gin.Context) {
	claims, err := currentClaims(ctx)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgYouMustLoginFirst, err)
		return
	}
	unread, err := rh.chatService.UnreadCount(ctx.Request.Context(), claims.ID)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return
	}
	respondOK(ctx, http.StatusOK, msgs.MsgOperationSuccessful, unread)
}

// conversationScope resolves the caller and the :id path parameter, writing
// the failure response itself.
func (rh *RestHandler) conversationScope(ctx *gin.Context) (*models.Claims, uint, bool) {
	claims, err := currentClaims(ctx)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgYouMustLoginFirst, err)
		return nil, 0, false
	}
	conversationID, err := utils.ParseID(ctx.Param("id"), errs.ErrInvalidConversationId)
	if err != nil {
		respondError(ctx, rh.logger, msgs.MsgOperationFailed, err)
		return nil, 0, false
	}
	return claims, conversationID, true
}
