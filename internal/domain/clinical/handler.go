package clinical

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/eyeclinic/clinic/internal/domain/scheduling"
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireStaff())
	staff.POST("/appointments/:id/prescription", h.RecordPrescription)
	staff.GET("/appointments/:id/medical-record", h.GetMedicalRecord)
	staff.GET("/patients/:id/medical-records", h.ListMedicalRecords)
	staff.GET("/patients/:id/doctor-prescriptions", h.ListDoctorPrescriptions)
	staff.GET("/patients/:id/optometrist-prescriptions", h.ListOptometristPrescriptions)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/patients/:id/doctor-prescriptions", h.CreateDoctorPrescription)
	doctor.DELETE("/doctor-prescriptions/:id", h.DeleteDoctorPrescription)

	assistant := api.Group("", auth.RequireRole(auth.RoleAssistant))
	assistant.POST("/patients/:id/optometrist-prescriptions", h.CreateOptometristPrescription)
	assistant.DELETE("/optometrist-prescriptions/:id", h.DeleteOptometristPrescription)

	api.GET("/me/medical-records", h.ListMine, auth.RequireRole(auth.RolePatient))
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) RecordPrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req PrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.RecordPrescription(c.Request().Context(), id, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetMedicalRecord(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetMedicalRecord(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListMedicalRecords(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	return h.listRecords(c, id)
}

// ListMine returns the calling patient's medical history.
func (h *Handler) ListMine(c echo.Context) error {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	id, err := uuid.Parse(p.Subject)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	}
	return h.listRecords(c, id)
}

func (h *Handler) listRecords(c echo.Context, patientID uuid.UUID) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMedicalRecords(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	if items == nil {
		items = []*MedicalRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateDoctorPrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req DoctorPrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rx, err := h.svc.CreateDoctorPrescription(c.Request().Context(), id, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) ListDoctorPrescriptions(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListDoctorPrescriptions(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	if items == nil {
		items = []*DoctorPrescription{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteDoctorPrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDoctorPrescription(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateOptometristPrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req OptometristPrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rx, err := h.svc.CreateOptometristPrescription(c.Request().Context(), id, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) ListOptometristPrescriptions(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListOptometristPrescriptions(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	if items == nil {
		items = []*OptometristPrescription{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteOptometristPrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteOptometristPrescription(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func httpError(c echo.Context, err error) error {
	var te *scheduling.TransitionError
	if errors.As(err, &te) {
		status := http.StatusConflict
		if te.Reason == scheduling.ReasonForbidden || te.Reason == scheduling.ReasonNotOwner {
			status = http.StatusForbidden
		}
		return c.JSON(status, map[string]string{"error": te.Error(), "reason": string(te.Reason)})
	}

	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, validation.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPatientNotFound), errors.Is(err, scheduling.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
