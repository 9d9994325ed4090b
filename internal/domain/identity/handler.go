package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/validation"
	"github.com/eyeclinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the login endpoints on public and the account
// endpoints on api. public is expected to be rate limited.
func (h *Handler) RegisterRoutes(public, api *echo.Group) {
	public.POST("/auth/patients/register", h.Register)
	public.POST("/auth/patients/verify", h.VerifyRegistration)
	public.POST("/auth/patients/login", h.LoginPatient)
	public.POST("/auth/patients/otp", h.RequestOTP)
	public.POST("/auth/patients/otp/verify", h.VerifyOTP)
	public.POST("/auth/staff/login", h.LoginStaff)

	api.GET("/me", h.Me, auth.RequireAuth())

	staff := api.Group("", auth.RequireStaff())
	staff.GET("/patients", h.ListPatients)
	staff.GET("/patients/:id", h.GetPatient)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/staff", h.ListStaff)
	admin.POST("/staff", h.CreateStaff)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.StartRegistration(c.Request().Context(), req); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "code_sent"})
}

func (h *Handler) VerifyRegistration(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tok, err := h.svc.CompleteRegistration(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, tok)
}

func (h *Handler) LoginPatient(c echo.Context) error {
	var req PatientLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tok, err := h.svc.LoginPatient(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) RequestOTP(c echo.Context) error {
	var req OTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.StartOTPLogin(c.Request().Context(), req); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "code_sent"})
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tok, err := h.svc.CompleteOTPLogin(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) LoginStaff(c echo.Context) error {
	var req StaffLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tok, err := h.svc.LoginStaff(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, tok)
}

// Me returns the caller's own patient or staff record.
func (h *Handler) Me(c echo.Context) error {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	id, err := uuid.Parse(p.Subject)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	}
	if p.Role == auth.RolePatient {
		patient, err := h.svc.GetPatient(c.Request().Context(), id)
		if err != nil {
			return h.httpError(c, err)
		}
		return c.JSON(http.StatusOK, patient)
	}
	st, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"q", "registered"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchPatients(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListStaff(c echo.Context) error {
	items, err := h.svc.ListStaff(c.Request().Context(), auth.Role(c.QueryParam("role")))
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []*Staff{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateStaff(c echo.Context) error {
	var req CreateStaffRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	st, err := h.svc.CreateStaff(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) httpError(c echo.Context, err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, validation.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case IsCodeError(err):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
