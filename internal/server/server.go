package server

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"rag-corpus/internal/rag"
)

type Server struct {
	listenAddr string
	app        *fiber.App
}

// NewServer wires the routes for engine. llm may be nil, ask then answers 503.
func NewServer(addr string, engine *rag.RAG, llm llms.Model, topK int) *Server {
	var (
		app          = fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
		checkHandler = NewCheckHandler()
		ragHandler   = NewRAGHandler(engine, llm, topK)
		check        = app.Group("/check")
		apiv1        = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/query", ragHandler.HandleQuery)
	apiv1.Post("/context", ragHandler.HandleContext)
	apiv1.Post("/ask", ragHandler.HandleAsk)
	apiv1.Get("/pages/:page", ragHandler.HandlePage)
	apiv1.Get("/stats", ragHandler.HandleStats)

	return &Server{listenAddr: addr, app: app}
}

func (s *Server) App() *fiber.App { return s.app }

// Run blocks until the listener fails or Shutdown is called
func (s *Server) Run() error {
	log.Info().Str("addr", s.listenAddr).Msg("Starting server")
	if err := s.app.Listen(s.listenAddr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown() error {
	log.Info().Msg("server stopped")
	return s.app.Shutdown()
}
