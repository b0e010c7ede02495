package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "carechat/docs"
	"carechat/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const shutdownTimeout = 15 * time.Second

type HttpServer struct {
	port              int
	router            *gin.Engine
	handler           *handlers.Handler
	restHandler       *handlers.RestHandler
	socketChatHandler *handlers.SocketChatHandler
	logger            zerolog.Logger
}

func NewHttpServer(
	port int,
	handler *handlers.Handler,
	restHandler *handlers.RestHandler,
	socketChatHandler *handlers.SocketChatHandler,
	logger zerolog.Logger,
) *HttpServer {
	hs := &HttpServer{
		port:              port,
		handler:           handler,
		restHandler:       restHandler,
		socketChatHandler: socketChatHandler,
		logger:            logger,
	}
	hs.initializeGin()
	hs.setupRestfulRoutes()
	hs.setupWebSocketRoutes()
	return hs
}

// Router exposes the configured engine, mostly for tests.
func (hs *HttpServer) Router() *gin.Engine {
	return hs.router
}

// Run serves until SIGINT/SIGTERM, then drains requests and closes sockets.
func (hs *HttpServer) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := hs.startServer()
	errCh := make(chan error, 1)
	go func() {
		hs.logger.Info().Str("addr", server.Addr).Msg("http server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return hs.waitForShutdown(server)
}

func (hs *HttpServer) initializeGin() {
	hs.router = gin.Default()
}

func (hs *HttpServer) setupRestfulRoutes() {
	hs.router.GET("/health", hs.restHandler.Health)
	hs.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := hs.router.Group("/api",
		hs.handler.MustAuthenticateMiddleware(),
		hs.handler.RateLimitMiddleware(),
	)
	{
		api.GET("/conversations", hs.restHandler.ListConversations)
		api.POST("/conversations", hs.restHandler.CreateConversation)
		api.POST("/conversations/family", hs.restHandler.FamilyChannel)
		api.POST("/conversations/direct", hs.restHandler.DirectConversation)
		api.DELETE("/conversations/:id", hs.restHandler.DeleteConversation)
		api.POST("/conversations/:id/participants", hs.restHandler.AddParticipant)
		api.GET("/conversations/:id/messages", hs.restHandler.ListMessages)
		api.POST("/conversations/:id/messages", hs.restHandler.SendMessage)
		api.GET("/conversations/:id/messages/:messageId/readers", hs.restHandler.Readers)
		api.POST("/conversations/:id/read", hs.restHandler.MarkRead)
		api.GET("/conversations/:id/typing", hs.restHandler.TypingUsers)
		api.POST("/conversations/:id/typing", hs.restHandler.SetTyping)
		api.DELETE("/messages/:id", hs.restHandler.DeleteMessage)
		api.GET("/unread", hs.restHandler.UnreadCount)
	}
}

func (hs *HttpServer) setupWebSocketRoutes() {
	hs.router.GET("/ws/chat",
		hs.handler.MustAuthenticateMiddleware(),
		hs.handler.RateLimitMiddleware(),
		hs.socketChatHandler.HandleSocketChatRoute,
	)
}

func (hs *HttpServer) startServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", hs.port),
		Handler:           hs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (hs *HttpServer) waitForShutdown(server *http.Server) error {
	hs.logger.Info().Msg("shutting down server")

	// Hijacked websocket connections are not tracked by Shutdown.
	hs.socketChatHandler.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	hs.logger.Info().Msg("server exiting")
	return nil
}
