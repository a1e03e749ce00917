package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/qdm12/reprint"
)

func registerCalibrationEndpoints(rest *echo.Echo, h *handlers) {
	group := rest.Group("/calibration")

	group.GET("/history/", h.getCalibrations)
	group.GET("/history/:"+urlParamId+"/", h.getCalibration)
	group.DELETE("/history/:"+urlParamId+"/", h.deleteCalibration)
}

func (h *handlers) getCalibrations(c echo.Context) error {
	if h.services.Persistence == nil {
		return returnNotFound(c, "calibration")
	}
	records, err := h.services.Persistence.ListCalibrations()
	if err != nil {
		return returnError(c, err)
	}
	data := reprint.This(records)
	return c.JSONPretty(http.StatusOK, data, indentationChar)
}

func (h *handlers) getCalibration(c echo.Context) error {
	if h.services.Persistence == nil {
		return returnNotFound(c, "calibration")
	}
	id, err := parseId(c)
	if err != nil {
		return returnBadRequest(c, err)
	}
	record, err := h.services.Persistence.LoadCalibration(id)
	if errors.Is(err, os.ErrNotExist) {
		return returnNotFound(c, c.Param(urlParamId))
	} else if err != nil {
		return returnError(c, err)
	}
	return c.JSONPretty(http.StatusOK, record, indentationChar)
}

func (h *handlers) deleteCalibration(c echo.Context) error {
	if h.services.Persistence == nil {
		return returnNotFound(c, "calibration")
	}
	id, err := parseId(c)
	if err != nil {
		return returnBadRequest(c, err)
	}
	if err = h.services.Persistence.DeleteCalibration(id); err != nil {
		return returnError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
