package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"carechat/internal/enums"
	"carechat/internal/feed"
	"carechat/internal/models"
	"carechat/internal/realtime"
	"carechat/internal/repositories"
	"carechat/internal/services"
	"carechat/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var testSecret = []byte("handler-test-secret")

type apiEnv struct {
	directory *repositories.MemoryDirectoryRepository
	feed      *feed.MemoryFeed
	chat      *services.ChatService
	sockets   *SocketChatHandler
	router    *gin.Engine
}

func newAPIEnv(t *testing.T, rps float64, burst int) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()
	clock := clockwork.NewRealClock()
	store := repositories.NewMemoryChatRepository(clock)
	directory := repositories.NewMemoryDirectoryRepository()
	changeFeed := feed.NewMemoryFeed(64)

	presence := services.NewPresenceHub(changeFeed, clock, 3*time.Second, logger)
	t.Cleanup(presence.Close)
	chat := services.NewChatService(
		store,
		services.NewConversationRegistry(store, directory, changeFeed, clock, enums.FAMILY_CHANNEL_NAME, logger),
		services.NewMessageLog(store, changeFeed, clock, logger),
		services.NewReadReceiptTracker(store, changeFeed, clock, logger),
		services.NewUnreadCounter(store),
		presence,
		services.NewProfileService(directory, nil, 16, time.Minute, logger),
		2*time.Second,
		logger,
	)

	handler := NewHandler(testSecret, rps, burst, logger)
	rest := NewRestHandler(chat, map[string]Pinger{"store": store, "feed": changeFeed}, logger)
	sockets := NewSocketChatHandler(chat, changeFeed, clock, realtime.Options{
		QueueSize:      64,
		BackoffInitial: 5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
	}, logger)
	t.Cleanup(sockets.Close)

	router := gin.New()
	router.GET("/health", rest.Health)
	api := router.Group("/api", handler.MustAuthenticateMiddleware(), handler.RateLimitMiddleware())
	api.GET("/conversations", rest.ListConversations)
	api.POST("/conversations", rest.CreateConversation)
	api.POST("/conversations/family", rest.FamilyChannel)
	api.POST("/conversations/direct", rest.DirectConversation)
	api.DELETE("/conversations/:id", rest.DeleteConversation)
	api.POST("/conversations/:id/participants", rest.AddParticipant)
	api.GET("/conversations/:id/messages", rest.ListMessages)
	api.POST("/conversations/:id/messages", rest.SendMessage)
	api.GET("/conversations/:id/messages/:messageId/readers", rest.Readers)
	api.POST("/conversations/:id/read", rest.MarkRead)
	api.GET("/conversations/:id/typing", rest.TypingUsers)
	api.POST("/conversations/:id/typing", rest.SetTyping)
	api.DELETE("/messages/:id", rest.DeleteMessage)
	api.GET("/unread", rest.UnreadCount)
	router.GET("/ws/chat", handler.MustAuthenticateMiddleware(), sockets.HandleSocketChatRoute)

	return &apiEnv{
		directory: directory,
		feed:      changeFeed,
		chat:      chat,
		sockets:   sockets,
		router:    router,
	}
}

// careFamily enrolls Ada (1), Ben (2) and Cleo (3) in family 1.
func (env *apiEnv) careFamily() {
	for _, user := range []models.User{
		{ID: 1, FirstName: "Ada", LastName: "Nurse"},
		{ID: 2, FirstName: "Ben", LastName: "Son"},
		{ID: 3, FirstName: "Cleo", LastName: "Carer"},
	} {
		env.directory.PutUser(user)
		env.directory.Enroll(1, user.ID)
	}
}

func token(t *testing.T, userID uint, firstName string) string {
	t.Helper()
	signed, err := utils.CreateJwtToken(userID, firstName, "Test", testSecret, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateJwtToken: %v", err)
	}
	return signed
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  []string        `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

func (env *apiEnv) do(t *testing.T, method, path, bearer string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		request.Header.Set("Authorization", "Bearer "+bearer)
	}
	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, request)

	var decoded envelope
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: undecodable body %q: %v", method, path, recorder.Body.String(), err)
		}
	}
	return recorder.Code, decoded
}

func decodeData[T any](t *testing.T, response envelope) T {
	t.Helper()
	var data T
	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("decode data %s: %v", string(response.Data), err)
	}
	return data
}

// familyChannel resolves the family channel as user 1.
func (env *apiEnv) familyChannel(t *testing.T) uint {
	t.Helper()
	id, err := env.chat.Registry().GetOrCreateFamilyChannel(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("GetOrCreateFamilyChannel: %v", err)
	}
	return id
}

type failingPinger struct{ err error }

func (fp failingPinger) Ping(context.Context) error { return fp.err }
