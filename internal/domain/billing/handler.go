package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("/revenue", h.Revenue)
	doctor.POST("/treatments", h.AddTreatment)
	doctor.POST("/salaries", h.RecordSalary)
	doctor.GET("/salaries", h.ListSalaries)

	api.GET("/me/salaries", h.ListMySalaries, auth.RequireRole(auth.RoleAssistant))
}

func (h *Handler) Revenue(c echo.Context) error {
	var p Period
	var err error
	if v := c.QueryParam("from"); v != "" {
		if p.From, err = parseDate("from", v); err != nil {
			return httpError(c, err)
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if p.To, err = parseDate("to", v); err != nil {
			return httpError(c, err)
		}
	}
	rev, err := h.svc.Revenue(c.Request().Context(), p)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rev)
}

func (h *Handler) AddTreatment(c echo.Context) error {
	var req TreatmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.AddTreatment(c.Request().Context(), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) RecordSalary(c echo.Context) error {
	var req SalaryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sal, err := h.svc.RecordSalary(c.Request().Context(), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, sal)
}

func (h *Handler) ListSalaries(c echo.Context) error {
	var assistant *uuid.UUID
	if v := c.QueryParam("assistant_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid assistant_id")
		}
		assistant = &id
	}
	return h.listSalaries(c, assistant)
}

// ListMySalaries returns the calling assistant's salary history.
func (h *Handler) ListMySalaries(c echo.Context) error {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	id, err := uuid.Parse(p.Subject)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	}
	return h.listSalaries(c, &id)
}

func (h *Handler) listSalaries(c echo.Context, assistant *uuid.UUID) error {
	items, err := h.svc.ListSalaries(c.Request().Context(), assistant)
	if err != nil {
		return httpError(c, err)
	}
	if items == nil {
		items = []*Salary{}
	}
	return c.JSON(http.StatusOK, items)
}

func httpError(c echo.Context, err error) error {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, validation.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrStaffNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
