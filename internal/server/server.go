package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SwitchGaming/ten-push-gateway/internal/config"
	"github.com/SwitchGaming/ten-push-gateway/internal/model"
	"github.com/SwitchGaming/ten-push-gateway/internal/service"
	"github.com/SwitchGaming/ten-push-gateway/internal/storage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// Server wires HTTP handlers.
type Server struct {
	app         *fiber.App
	dispatchSvc *service.DispatchService
	deviceSvc   *service.DeviceService
	logSvc      *service.DeliveryLogService
	authSvc     *service.AuthService
	cfg         *config.Config
}

// New builds a server instance.
func New(cfg *config.Config, dispatchSvc *service.DispatchService, deviceSvc *service.DeviceService, logSvc *service.DeliveryLogService, authSvc *service.AuthService) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:  cfg.HTTP.ReadTimeout,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		AppName:      "ten-push-gateway",
	})
	s := &Server{
		app:         app,
		dispatchSvc: dispatchSvc,
		deviceSvc:   deviceSvc,
		logSvc:      logSvc,
		authSvc:     authSvc,
		cfg:         cfg,
	}
	s.registerRoutes()
	return s
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for handler tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)

	// The dispatch endpoint is called cross-origin by backend edge functions,
	// so it answers preflight with the header set those callers send.
	s.app.Use("/push", cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "POST, OPTIONS",
		AllowHeaders: "authorization, x-client-info, apikey, content-type",
	}))
	s.app.Post("/push/send", s.handleDispatch)

	s.app.Post("/devices", s.handleRegisterDevice)
	s.app.Delete("/devices/:token", s.handleDeleteDevice)
	s.app.Get("/users/:userId/devices", s.handleListUserDevices)
	s.app.Put("/users/:userId/preferences", s.handleSavePreferences)
	s.app.Get("/users/:userId/preferences", s.handleGetPreferences)

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Get("/auth/profile", s.handleProfile)

	// Delivery log APIs for the dev console
	logGroup := s.app.Group("/api/logs", s.requireAuth)
	logGroup.Get("/list", s.handleLogList)
	logGroup.Get("/count/date", s.handleLogCountDate)
	logGroup.Get("/count/status", s.handleLogCountStatus)
	logGroup.Get("/count/type", s.handleLogCountType)

	admin := s.app.Group("/admin", s.requireAuth)
	admin.Get("/summary", s.handleAdminSummary)
	admin.Get("/devices", s.handleAdminListDevices)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// handleDispatch runs one push dispatch. The response shapes are pinned by
// the backend callers that already consume them: skips and empty token sets
// are reported explicitly, never silently dropped.
func (s *Server) handleDispatch(c *fiber.Ctx) error {
	var req model.DispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	outcome, err := s.dispatchSvc.Dispatch(context.Background(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenLookup):
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch tokens"})
		case errors.Is(err, service.ErrNoDeviceTokens):
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "No device tokens found"})
		default:
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if outcome.Skipped != "" {
		return c.JSON(fiber.Map{"skipped": outcome.Skipped})
	}
	return c.JSON(fiber.Map{
		"success": outcome.Success,
		"results": outcome.Results,
	})
}

func (s *Server) handleRegisterDevice(c *fiber.Ctx) error {
	var req service.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("invalid request body"))
	}
	token, err := s.deviceSvc.Register(context.Background(), req)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("device registered", token))
}

func (s *Server) handleDeleteDevice(c *fiber.Ctx) error {
	err := s.deviceSvc.Delete(context.Background(), c.Params("token"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(http.StatusNotFound).JSON(model.Error("device not found"))
		}
		return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("device removed", nil))
}

func (s *Server) handleListUserDevices(c *fiber.Ctx) error {
	tokens, err := s.deviceSvc.ListForUser(context.Background(), c.Params("userId"))
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("ok", tokens))
}

func (s *Server) handleSavePreferences(c *fiber.Ctx) error {
	var req service.PreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("invalid request body"))
	}
	prefs, err := s.deviceSvc.SavePreferences(context.Background(), c.Params("userId"), req)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("preferences saved", prefs))
}

func (s *Server) handleGetPreferences(c *fiber.Ctx) error {
	prefs, err := s.deviceSvc.GetPreferences(context.Background(), c.Params("userId"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(http.StatusNotFound).JSON(model.Error("no preferences saved"))
		}
		return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("ok", prefs))
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(model.Error("invalid request body"))
	}
	if s.authSvc == nil || !s.authSvc.Enabled() {
		return c.JSON(model.Success("login not required", fiber.Map{
			"token":    "",
			"enabled":  false,
			"username": "guest",
		}))
	}
	token, err := s.authSvc.Authenticate(req.Username, req.Password)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("login ok", fiber.Map{
		"token":    token,
		"enabled":  true,
		"username": s.authSvc.Username(),
	}))
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	if s.authSvc == nil || !s.authSvc.Enabled() {
		return c.JSON(model.Success("ok", fiber.Map{
			"enabled":  false,
			"username": "guest",
		}))
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	return c.JSON(model.Success("ok", fiber.Map{
		"enabled":  true,
		"username": claims.Username,
	}))
}

func (s *Server) handleLogList(c *fiber.Ctx) error {
	filter := parseLogFilter(c)
	page, err := s.logSvc.Query(context.Background(), filter)
	if err != nil {
		return c.JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("ok", page))
}

func (s *Server) handleLogCountDate(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	dateType := c.Query("dateType", "day")
	data, err := s.logSvc.CountByDate(context.Background(), dateType, begin, end)
	if err != nil {
		return c.JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleLogCountStatus(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.logSvc.CountByStatus(context.Background(), begin, end)
	if err != nil {
		return c.JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleLogCountType(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.logSvc.CountByType(context.Background(), begin, end)
	if err != nil {
		return c.JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleAdminListDevices(c *fiber.Ctx) error {
	views, err := s.deviceSvc.ListViews(context.Background())
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("ok", views))
}

func (s *Server) handleAdminSummary(c *fiber.Ctx) error {
	ctx := context.Background()
	devices, err := s.deviceSvc.ListViews(ctx)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
	}
	todayStart := time.Now().UTC().Truncate(24 * time.Hour)
	todayPage, err := s.logSvc.Query(ctx, model.DeliveryLogFilter{BeginTime: &todayStart, PageSize: 1})
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
	}
	sentPage, err := s.logSvc.Query(ctx, model.DeliveryLogFilter{BeginTime: &todayStart, Status: model.StatusSent, PageSize: 1})
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
	}
	recentPage, err := s.logSvc.Query(ctx, model.DeliveryLogFilter{PageSize: 5})
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
	}
	recent := make([]fiber.Map, 0, len(recentPage.Data))
	for _, log := range recentPage.Data {
		recent = append(recent, fiber.Map{
			"userId": log.UserID,
			"type":   log.NotificationType,
			"title":  log.Title,
			"status": log.Status,
			"time":   log.CreatedAt.Local().Format("01-02 15:04"),
		})
	}
	return c.JSON(model.Success("ok", fiber.Map{
		"devices":         len(devices),
		"todayDispatched": todayPage.Total,
		"todaySent":       sentPage.Total,
		"recentLogs":      recent,
	}))
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	if s.authSvc == nil || !s.authSvc.Enabled() {
		return c.Next()
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseLogFilter(c *fiber.Ctx) model.DeliveryLogFilter {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	begin, end := parseTimeRange(c)
	return model.DeliveryLogFilter{
		UserID:    c.Query("userId"),
		Type:      c.Query("type"),
		Status:    c.Query("status"),
		BeginTime: begin,
		EndTime:   end,
		Page:      page,
		PageSize:  pageSize,
	}
}

func parseTimeRange(c *fiber.Ctx) (*time.Time, *time.Time) {
	begin := parseTime(c.Query("beginTime"))
	end := parseTime(c.Query("endTime"))
	return begin, end
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
