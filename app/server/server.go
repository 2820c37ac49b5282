package server

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"docintel/app/agent"
	"docintel/app/api"
	"docintel/index"
	"docintel/ingest"
	"docintel/store"
)

var fiberConfig = fiber.Config{
	ErrorHandler: api.ErrorHandler,
	BodyLimit:    50 * 1024 * 1024, // uploads
}

type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *slog.Logger
}

func New(addr string, st store.DBStorer, idx *index.Index, pipeline *ingest.Pipeline, retriever *agent.Retriever, chatAgent *agent.Agent) *Server {
	app := fiber.New(fiberConfig)

	var (
		checkHandler    = api.NewCheckHandler()
		documentHandler = api.NewDocumentHandler(st, idx, pipeline)
		queryHandler    = api.NewQueryHandler(retriever, chatAgent)

		check     = app.Group("/check")
		documents = app.Group("/documents")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)

	documents.Post("/upload", documentHandler.HandleUpload)
	documents.Get("/", documentHandler.HandleList)
	documents.Post("/search", queryHandler.HandleSearch)
	documents.Post("/chat", queryHandler.HandleChat)
	documents.Get("/:id/status", documentHandler.HandleStatus)
	documents.Delete("/:id", documentHandler.HandleDelete)

	return &Server{
		listenAddr: addr,
		app:        app,
		logger:     slog.Default(),
	}
}

// App exposes the fiber app for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	s.logger.Info("server listening", "addr", s.listenAddr)
	return s.app.Listen(s.listenAddr)
}

func (s *Server) Stop() {
	if err := s.app.Shutdown(); err != nil {
		s.logger.Error("server shutdown", "error", err)
	}
	s.logger.Info("server stopped")
}
