package handlers

import (
	"time"

	"github.com/djcrm/crm/internal/middleware"
	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/internal/services"
	"github.com/djcrm/crm/internal/storage"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Dependencies are the shared services every handler is built from.
type Dependencies struct {
	DB         *gorm.DB
	Storage    storage.ObjectStore
	Visibility *services.VisibilityService
	Users      *services.UserService
	Tiers      *services.TierService
	CaseFields *services.CaseFieldService
	Audit      *services.AuditService
	URLExpiry  time.Duration
}

// Register mounts the health check and every /api route on app.
func Register(app *fiber.App, deps Dependencies) {
	authHandler := NewAuthHandler(deps.DB, deps.Visibility, deps.Audit)
	leadsHandler := NewLeadsHandler(deps.DB, deps.Visibility, deps.CaseFields, deps.Storage, deps.Audit)
	followUpsHandler := NewFollowUpsHandler(deps.DB, deps.Visibility, deps.Storage, deps.Audit)
	caseFieldsHandler := NewCaseFieldsHandler(deps.Visibility, deps.CaseFields, deps.Audit)
	foldersHandler := NewFoldersHandler(deps.DB, deps.Visibility, deps.Storage, deps.Audit, deps.URLExpiry)
	teamsHandler := NewTeamsHandler(deps.DB, deps.Visibility, deps.Users, deps.Audit)
	workReportsHandler := NewWorkReportsHandler(deps.DB, deps.Visibility, deps.Storage, deps.Audit)
	agentsHandler := NewAgentsHandler(deps.DB, deps.Users, deps.Tiers, deps.Storage, deps.Audit)
	usersHandler := NewUsersHandler(deps.DB, deps.Visibility, deps.Users, deps.Tiers, deps.Storage, deps.Audit)
	performancesHandler := NewPerformancesHandler(deps.DB, deps.Visibility)
	auditHandler := NewAuditHandler(deps.DB)

	authMiddleware := middleware.NewAuthMiddleware(deps.DB)
	managers := middleware.RequireTier(models.TierManager)
	organisers := middleware.RequireTier(models.TierOrganiser)
	superAdmins := middleware.RequireTier(models.TierSuperAdmin)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)

	leadRoutes := api.Group("/leads", authMiddleware.RequireAuth)
	leadRoutes.Get("/", leadsHandler.List)
	leadRoutes.Get("/json", leadsHandler.JSON)
	leadRoutes.Get("/schema", leadsHandler.Schema)
	leadRoutes.Post("/", leadsHandler.Create)
	leadRoutes.Get("/:id/followups", followUpsHandler.List)
	leadRoutes.Post("/:id/followups", followUpsHandler.Create)
	leadRoutes.Get("/:id", leadsHandler.Get)
	leadRoutes.Put("/:id", leadsHandler.Update)
	leadRoutes.Delete("/:id", leadsHandler.Delete)

	followUpRoutes := api.Group("/followups", authMiddleware.RequireAuth)
	followUpRoutes.Get("/:id/download", followUpsHandler.Download)
	followUpRoutes.Get("/:id", followUpsHandler.Get)
	followUpRoutes.Put("/:id", followUpsHandler.Update)
	followUpRoutes.Delete("/:id", followUpsHandler.Delete)

	caseFieldRoutes := api.Group("/casefields", authMiddleware.RequireAuth, organisers)
	caseFieldRoutes.Get("/", caseFieldsHandler.List)
	caseFieldRoutes.Post("/", caseFieldsHandler.Create)
	caseFieldRoutes.Delete("/:id", caseFieldsHandler.Delete)

	folderRoutes := api.Group("/folders", authMiddleware.RequireAuth)
	folderRoutes.Get("/", foldersHandler.Root)
	folderRoutes.Get("/:id", foldersHandler.Get)
	folderRoutes.Post("/", managers, foldersHandler.Create)
	folderRoutes.Put("/:id", managers, foldersHandler.Update)
	folderRoutes.Delete("/:id", managers, foldersHandler.Delete)

	documentRoutes := api.Group("/documents", authMiddleware.RequireAuth)
	documentRoutes.Post("/", managers, foldersHandler.CreateDocument)
	documentRoutes.Get("/:id/download", foldersHandler.DownloadDocument)
	documentRoutes.Get("/:id/url", foldersHandler.DocumentURL)
	documentRoutes.Get("/:id", foldersHandler.GetDocument)
	documentRoutes.Put("/:id", managers, foldersHandler.UpdateDocument)
	documentRoutes.Delete("/:id", managers, foldersHandler.DeleteDocument)

	teamRoutes := api.Group("/teams", authMiddleware.RequireAuth, managers)
	teamRoutes.Get("/", teamsHandler.List)
	teamRoutes.Post("/", teamsHandler.Create)
	teamRoutes.Get("/candidates", teamsHandler.Candidates)
	teamRoutes.Post("/users", teamsHandler.CreateUser)
	teamRoutes.Get("/:id", teamsHandler.Get)
	teamRoutes.Put("/:id", teamsHandler.Update)
	teamRoutes.Delete("/:id", teamsHandler.Delete)
	teamRoutes.Post("/:id/members", teamsHandler.AddMember)
	teamRoutes.Delete("/:id/members/:userId", teamsHandler.RemoveMember)

	workReportRoutes := api.Group("/workreports", authMiddleware.RequireAuth)
	workReportRoutes.Get("/", workReportsHandler.List)
	workReportRoutes.Post("/", workReportsHandler.Create)
	workReportRoutes.Get("/:id/download", workReportsHandler.Download)
	workReportRoutes.Get("/:id", workReportsHandler.Get)
	workReportRoutes.Put("/:id", workReportsHandler.Update)
	workReportRoutes.Delete("/:id", workReportsHandler.Delete)

	agentRoutes := api.Group("/agents", authMiddleware.RequireAuth, organisers)
	agentRoutes.Get("/", agentsHandler.List)
	agentRoutes.Post("/", agentsHandler.Create)
	agentRoutes.Get("/:id", agentsHandler.Get)
	agentRoutes.Put("/:id", agentsHandler.Update)
	agentRoutes.Delete("/:id", agentsHandler.Delete)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth, superAdmins)
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Post("/", usersHandler.Create)
	userRoutes.Get("/:id", usersHandler.Get)
	userRoutes.Put("/:id", usersHandler.Update)
	userRoutes.Put("/:id/tier", usersHandler.SetTier)
	userRoutes.Delete("/:id", usersHandler.Delete)

	performanceRoutes := api.Group("/performance", authMiddleware.RequireAuth)
	performanceRoutes.Get("/me", performancesHandler.Me)
	performanceRoutes.Get("/ranking", performancesHandler.Ranking)
	performanceRoutes.Get("/teams", performancesHandler.Teams)
	performanceRoutes.Get("/teams/:id", performancesHandler.Team)

	auditRoutes := api.Group("/audit-log", authMiddleware.RequireAuth, superAdmins)
	auditRoutes.Get("/", auditHandler.List)
	auditRoutes.Get("/export", auditHandler.Export)
}
