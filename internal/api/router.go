package api

import (
	"net/http"

	"github.com/Rrens/genai-platform/internal/api/handler"
	customMiddleware "github.com/Rrens/genai-platform/internal/api/middleware"
	"github.com/Rrens/genai-platform/internal/bootstrap"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
)

// NewRouter creates and configures the HTTP router
func NewRouter(app *bootstrap.App) http.Handler {
	r := chi.NewRouter()
	cfg := app.Config
	svc := app.Services

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	userHandler := handler.NewUserHandler(svc.Users)
	catalogHandler := handler.NewCatalogHandler(svc.Models, svc.Groups, svc.Users)
	sessionHandler := handler.NewSessionHandler(svc.Sessions)
	workspaceHandler := handler.NewWorkspaceHandler(svc.Workspaces, svc.Documents)
	chatbotHandler := handler.NewChatbotHandler(svc.Chatbots)
	agentHandler := handler.NewAgentHandler(svc.Agents, svc.ActionGroups, svc.Libraries)

	authMiddleware := customMiddleware.NewAuthMiddleware(app.JWT, svc.Users)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(app.RateLimiter, "api")

	// Public routes
	r.Get("/health", handler.HealthCheck)
	r.Get("/ready", handler.ReadyCheck(map[string]handler.Pinger{
		"postgres": app.DB,
		"redis":    app.Redis,
	}))

	r.Route("/embedded/chatbot/{chatbotID}", func(r chi.Router) {
		r.Get("/", chatbotHandler.GetPublic)
		r.Get("/sessions/{sessionID}", chatbotHandler.EmbeddedSession)
		r.Post("/sessions/{sessionID}/messages/{messageID}", chatbotHandler.FlagMessage)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Use(rateLimitMiddleware.Limit)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.List)
			r.Post("/", userHandler.Register)
			r.Post("/integrate-amorphic", userHandler.Integrate)

			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", userHandler.Get)
				r.Put("/", userHandler.Update)
				r.Post("/preferences", userHandler.SetPreferences)
				r.Get("/alert-preferences", userHandler.Alerts)
				r.Post("/alert-preferences", userHandler.AddAlerts)
				r.Delete("/alert-preferences", userHandler.RemoveAlerts)
			})
		})

		r.Route("/amorphic", func(r chi.Router) {
			r.Get("/domains", userHandler.Domains)
			r.Get("/tenants", userHandler.Tenants)
			r.Get("/roles", userHandler.Roles)
			r.Get("/datasets", userHandler.Datasets)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", catalogHandler.ListModels)
			r.Get("/{modelID}", catalogHandler.GetModel)
			r.Put("/{modelID}", catalogHandler.UpdateModel)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", catalogHandler.ListGroups)
			r.Post("/", catalogHandler.CreateGroup)
			r.Put("/{groupID}", catalogHandler.UpdateGroup)
		})

		r.Route("/chat/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)
			r.Post("/", sessionHandler.Create)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Get("/files", sessionHandler.ListFiles)
				r.Post("/files", sessionHandler.UploadURL)
				r.Delete("/files", sessionHandler.DeleteFiles)
				r.Put("/files/dataset-upload", sessionHandler.UploadToDataset)
				r.Get("/messages/{messageID}", sessionHandler.GetMessage)
			})
		})

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", workspaceHandler.List)
			r.Post("/", workspaceHandler.Create)

			r.Route("/{workspaceID}", func(r chi.Router) {
				r.Get("/", workspaceHandler.Get)
				r.Put("/", workspaceHandler.Update)
				r.Delete("/", workspaceHandler.Delete)
				r.Get("/stats", workspaceHandler.Stats)

				r.Get("/runs", workspaceHandler.ListRuns)
				r.Post("/runs", workspaceHandler.StartRun)
				r.Get("/runs/{runID}", workspaceHandler.GetRun)

				r.Get("/documents", workspaceHandler.ListDocuments)
				r.Post("/documents", workspaceHandler.AddDocuments)
				r.Get("/documents/{documentID}", workspaceHandler.GetDocument)
				r.Delete("/documents/{documentID}", workspaceHandler.DeleteDocument)

				r.Get("/crawl-website", workspaceHandler.ListCrawls)
				r.Post("/crawl-website", workspaceHandler.CreateCrawl)
				r.Get("/crawl-website/{crawlID}", workspaceHandler.GetCrawl)
				r.Delete("/crawl-website/{crawlID}", workspaceHandler.DeleteCrawl)
			})
		})

		r.Route("/chatbots", func(r chi.Router) {
			r.Get("/", chatbotHandler.List)
			r.Post("/", chatbotHandler.Create)
			r.Get("/{chatbotID}", chatbotHandler.Get)
			r.Put("/{chatbotID}", chatbotHandler.Update)
			r.Delete("/{chatbotID}", chatbotHandler.Delete)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", agentHandler.List)
			r.Post("/", agentHandler.Create)

			r.Route("/action-groups", func(r chi.Router) {
				r.Get("/", agentHandler.ListActionGroups)
				r.Post("/", agentHandler.CreateActionGroup)
				r.Get("/{actionGroupID}", agentHandler.GetActionGroup)
				r.Put("/{actionGroupID}", agentHandler.UpdateActionGroup)
				r.Delete("/{actionGroupID}", agentHandler.DeleteActionGroup)
				r.Get("/{actionGroupID}/logs", agentHandler.ActionGroupLogs)
			})

			r.Route("/libraries", func(r chi.Router) {
				r.Get("/", agentHandler.ListLibraries)
				r.Post("/", agentHandler.CreateLibrary)
				r.Get("/{libraryID}", agentHandler.GetLibrary)
				r.Put("/{libraryID}", agentHandler.UpdateLibrary)
				r.Delete("/{libraryID}", agentHandler.DeleteLibrary)
			})

			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", agentHandler.Get)
				r.Put("/", agentHandler.Update)
				r.Delete("/", agentHandler.Delete)
				r.Get("/action-groups", agentHandler.ListAttachedActionGroups)
				r.Put("/action-groups", agentHandler.UpdateAttachedActionGroups)
			})
		})
	})

	return gzhttp.GzipHandler(r)
}
