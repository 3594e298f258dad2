package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fingerattend/internal/attendance"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(c *gin.Context) bool

// Handler exposes the attendance service over HTTP.
type Handler struct {
	svc    *attendance.Service
	log    zerolog.Logger
	checks map[string]HealthCheck
}

// New creates a handler. checks are reported by /healthz.
func New(svc *attendance.Service, log zerolog.Logger, checks map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, log: log, checks: checks}
}

// Register mounts the API routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		// Hardware scanner
		api.POST("/scan", h.ReportScan)
		api.POST("/markAttendance/:fingerprintId", h.MarkAttendance)

		// Registration form: poll for a scan, then submit
		api.GET("/addStudent", h.PollPending)
		api.POST("/addStudent", h.CompleteEnrollment)

		// Reporting
		api.GET("/eligibility", h.Eligibility)
		api.GET("/quickstats", h.QuickStats)
		api.GET("/graphData", h.GraphData)
		api.GET("/attendance", h.AttendanceOn)
		api.GET("/student/:id", h.StudentByID)
		api.GET("/fingerprint/:fingerprintId", h.StudentByFingerprint)

		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.PutSettings)
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(c)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Enrollment handshake ----------

type scanRequest struct {
	FingerprintID string `json:"fingerprint_id" form:"fingerprint_id" binding:"required"`
}

// ReportScan is called by the scanner when it reads a finger it does not know.
func (h *Handler) ReportScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.svc.Detect(c.Request.Context(), req.FingerprintID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// PollPending returns the oldest waiting scan, or an empty id.
func (h *Handler) PollPending(c *gin.Context) {
	id, err := h.svc.PollNext(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

type enrollRequest struct {
	FingerprintID string `json:"fingerprint_id" form:"fingerprint_id" binding:"required"`
	Name          string `json:"name" form:"name" binding:"required"`
	Matric        string `json:"matric" form:"matric" binding:"required"`
	Image         string `json:"image" form:"image"`
}

// CompleteEnrollment accepts the registration form for a polled fingerprint ID.
func (h *Handler) CompleteEnrollment(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e := attendance.Enrollment{
		IdentityToken: req.FingerprintID,
		Name:          req.Name,
		Matric:        req.Matric,
	}
	if img := strings.TrimSpace(req.Image); img != "" {
		e.Image = &img
	}
	st, err := h.svc.Complete(c.Request.Context(), e)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Student created successfully", "student": st})
}

// ---------- Attendance ----------

func (h *Handler) MarkAttendance(c *gin.Context) {
	res, err := h.svc.Mark(c.Request.Context(), c.Param("fingerprintId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ---------- Reporting ----------

func (h *Handler) Eligibility(c *gin.Context) {
	rep, err := h.svc.Eligibility(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) QuickStats(c *gin.Context) {
	qs, err := h.svc.QuickStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, qs)
}

func (h *Handler) GraphData(c *gin.Context) {
	data, err := h.svc.GraphData(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// AttendanceOn lists a day's periods. date is YYYY-MM-DD or a Unix timestamp in milliseconds;
// it defaults to today.
func (h *Handler) AttendanceOn(c *gin.Context) {
	date := h.svc.Today()
	if raw := c.Query("date"); raw != "" {
		parsed, err := parseDate(raw, h.svc.Settings())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD or a millisecond timestamp"})
			return
		}
		date = parsed
	}
	views, err := h.svc.AttendanceOn(c.Request.Context(), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date.Format("2006-01-02"), "attendance": views})
}

func parseDate(raw string, settings attendance.Settings) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return settings.Day(time.UnixMilli(ms)), nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) StudentByID(c *gin.Context) {
	d, err := h.svc.StudentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) StudentByFingerprint(c *gin.Context) {
	d, err := h.svc.StudentByToken(c.Request.Context(), c.Param("fingerprintId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ---------- Settings ----------

type settingsRequest struct {
	Policy             *string  `json:"policy"`
	DemoWindow         *int     `json:"demo_window"`
	CalendarWindowDays *int     `json:"calendar_window_days"`
	Threshold          *float64 `json:"threshold"`
}

func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Settings())
}

// PutSettings overlays the provided fields on the current settings.
func (h *Handler) PutSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.svc.Settings()
	if req.Policy != nil {
		s.Policy = attendance.Policy(*req.Policy)
	}
	if req.DemoWindow != nil {
		s.DemoWindow = *req.DemoWindow
	}
	if req.CalendarWindowDays != nil {
		s.CalendarWindowDays = *req.CalendarWindowDays
	}
	if req.Threshold != nil {
		s.Threshold = *req.Threshold
	}
	if err := h.svc.SetSettings(s); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// fail maps attendance errors to HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var ae *attendance.Error
	if errors.As(err, &ae) && ae.Field != "" {
		body["field"] = ae.Field
	}
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, body)
	case errors.Is(err, attendance.ErrConflict):
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, attendance.ErrInvalid):
		c.JSON(http.StatusBadRequest, body)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
