package status

import (
	"errors"

	"localsync/core/logger"
	"localsync/core/metrics"
	"localsync/core/reconcile"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the sync status.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the status routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/status")
	group.Get("/", h.HandleStatus)
	group.Get("/transfers", h.HandleTransfers)
	group.Get("/plan", h.HandlePlan)
	group.Post("/suspend", h.HandleSuspend)
	group.Post("/resume", h.HandleResume)
	group.Post("/rescan", h.HandleRescan)

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

// HandleStatus reports the engine state.
// @Summary Sync Status
// @Tags status
// @Produce json
// @Success 200 {object} reconcile.Stats
// @Router /status [get]
func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	return c.JSON(h.service.Stats())
}

// HandleTransfers lists the transfer queue.
// @Summary Transfer Queue
// @Tags status
// @Produce json
// @Success 200 {array} transfer.Info
// @Router /status/transfers [get]
func (h *Handler) HandleTransfers(c *fiber.Ctx) error {
	return c.JSON(h.service.Transfers())
}

// HandlePlan compares the local tree with the remote.
// @Summary Dry-run Plan
// @Description Lists the uploads, downloads and conflicts a comparison with the remote would produce. Nothing is changed.
// @Tags status
// @Produce json
// @Success 200 {object} reconcile.Plan
// @Failure 404 {object} map[string]string "No remote configured"
// @Failure 502 {object} map[string]string "Remote listing failed"
// @Router /status/plan [get]
func (h *Handler) HandlePlan(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)

	plan, err := h.service.Plan(c.Context())
	if errors.Is(err, ErrNoRemote) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		l.Error("Remote listing failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(plan)
}

// HandleSuspend pauses the sync.
// @Summary Suspend Sync
// @Tags status
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 409 {object} map[string]string "Invalid state transition"
// @Router /status/suspend [post]
func (h *Handler) HandleSuspend(c *fiber.Ctx) error {
	return h.transition(c, "suspended", h.service.Suspend)
}

// HandleResume resumes a suspended sync.
// @Summary Resume Sync
// @Tags status
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 409 {object} map[string]string "Invalid state transition"
// @Router /status/resume [post]
func (h *Handler) HandleResume(c *fiber.Ctx) error {
	return h.transition(c, "resumed", h.service.Resume)
}

func (h *Handler) transition(c *fiber.Ctx, done string, fn func() error) error {
	l := logger.WithRayID(h.service.logger, c)

	if err := fn(); err != nil {
		if errors.Is(err, reconcile.ErrInvalidTransition) {
			l.Warn("Rejected state change", zap.String("action", done), zap.Error(err))
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
				"state": h.service.Stats().State,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	l.Info("Sync state changed", zap.String("action", done))
	return c.JSON(fiber.Map{"status": done})
}

// HandleRescan schedules a rescan.
// @Summary Rescan
// @Tags status
// @Produce json
// @Param path query string false "Folder relative to the sync root"
// @Success 202 {object} map[string]string
// @Failure 400 {object} map[string]string "Bad path"
// @Router /status/rescan [post]
func (h *Handler) HandleRescan(c *fiber.Ctx) error {
	rel, err := h.service.Rescan(c.Query("path"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	scope := rel
	if scope == "" {
		scope = "full"
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "scheduled", "scope": scope})
}
