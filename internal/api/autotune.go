package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/transport"
	"github.com/labstack/echo/v4"
	"github.com/qdm12/reprint"
)

// autotuneRequest starts a run, omitted fields use the configured defaults
type autotuneRequest struct {
	TargetVelocity *float64 `json:"targetVelocity"`
	Motor          *string  `json:"motor"`
	DurationMs     *int64   `json:"durationMs"`
	Aggressiveness *float64 `json:"aggressiveness"`
}

func (r autotuneRequest) runConfig(defaults autotune.RunConfig) (autotune.RunConfig, error) {
	config := defaults
	if r.TargetVelocity != nil {
		config.TargetVelocity = *r.TargetVelocity
	}
	if r.Motor != nil {
		motor, err := autotune.ParseMotorSelector(*r.Motor)
		if err != nil {
			return config, err
		}
		config.Motor = motor
	}
	if r.DurationMs != nil {
		config.Duration = time.Duration(*r.DurationMs) * time.Millisecond
	}
	if r.Aggressiveness != nil {
		config.Aggressiveness = *r.Aggressiveness
	}
	return config, config.Validate()
}

type autotuneStatus struct {
	Run    *autotune.RunState       `json:"run,omitempty"`
	Result *autotune.AnalysisResult `json:"result,omitempty"`
	Label  string                   `json:"aggressivenessLabel,omitempty"`
}

func registerAutotuneEndpoints(rest *echo.Echo, h *handlers) {
	group := rest.Group("/autotune")

	group.GET("/", h.getAutotune)
	group.POST("/", h.startAutotune)
	group.DELETE("/", h.stopAutotune)
	group.POST("/finish/", h.finishAutotune)
	group.POST("/apply/", h.applyGains)

	group.GET("/history/", h.getHistory)
	group.GET("/history/:"+urlParamId+"/", h.getHistoryEntry)
	group.DELETE("/history/:"+urlParamId+"/", h.deleteHistoryEntry)
}

func (h *handlers) status() autotuneStatus {
	status := autotuneStatus{}
	if run, ok := h.services.Sequencer.Snapshot(); ok {
		status.Run = &run
	}
	if result, ok := h.services.Sequencer.Result(); ok {
		status.Result = result
		status.Label = autotune.AggressivenessLabel(result.Aggressiveness)
	}
	return status
}

// returns the current run and the result of the last completed run
func (h *handlers) getAutotune(c echo.Context) error {
	return c.JSONPretty(http.StatusOK, h.status(), indentationChar)
}

func (h *handlers) startAutotune(c echo.Context) error {
	var request autotuneRequest
	if err := c.Bind(&request); err != nil {
		return returnBadRequest(c, err)
	}
	config, err := request.runConfig(h.services.AutotuneDefaults)
	if err != nil {
		return returnBadRequest(c, err)
	}
	if run, ok := h.services.Sequencer.Snapshot(); ok && run.Phase.Active() {
		return returnConflict(c, "an autotune run is already in progress, stop it first")
	}
	if err = h.services.Sequencer.Start(config); err != nil {
		return returnBadRequest(c, err)
	}
	return c.JSONPretty(http.StatusAccepted, h.status(), indentationChar)
}

func (h *handlers) stopAutotune(c echo.Context) error {
	err := h.services.Sequencer.Stop()
	if errors.Is(err, autotune.ErrNoActiveRun) {
		return returnConflict(c, err.Error())
	} else if err != nil {
		return returnError(c, err)
	}
	return c.JSONPretty(http.StatusOK, h.status(), indentationChar)
}

// ends the measurement early and analyzes the samples recorded so far
func (h *handlers) finishAutotune(c echo.Context) error {
	_, err := h.services.Sequencer.Finish()
	if errors.Is(err, autotune.ErrNoActiveRun) {
		return returnConflict(c, err.Error())
	} else if errors.Is(err, autotune.ErrInsufficientData) {
		return c.JSONPretty(http.StatusUnprocessableEntity, &Result{
			Name:    "Insufficient data",
			Message: err.Error(),
		}, indentationChar)
	} else if err != nil {
		return returnError(c, err)
	}
	return c.JSONPretty(http.StatusOK, h.status(), indentationChar)
}

func (h *handlers) applyGains(c echo.Context) error {
	gains, err := h.services.Sequencer.ApplyGains()
	switch {
	case errors.Is(err, autotune.ErrNoResult):
		return returnConflict(c, err.Error())
	case errors.Is(err, transport.ErrNotConnected):
		return returnUnavailable(c, err)
	case err != nil:
		return returnError(c, err)
	}
	if h.services.Recorder != nil {
		if _, err := h.services.Recorder.MarkApplied(); err != nil && !errors.Is(err, autotune.ErrNoResult) {
			return returnError(c, err)
		}
	}
	return c.JSONPretty(http.StatusOK, gains, indentationChar)
}

func (h *handlers) getHistory(c echo.Context) error {
	if h.services.Persistence == nil {
		return returnNotFound(c, "history")
	}
	records, err := h.services.Persistence.ListAutotuneRuns()
	if err != nil {
		return returnError(c, err)
	}
	data := reprint.This(records)
	return c.JSONPretty(http.StatusOK, data, indentationChar)
}

func (h *handlers) getHistoryEntry(c echo.Context) error {
	if h.services.Persistence == nil {
		return returnNotFound(c, "history")
	}
	id, err := parseId(c)
	if err != nil {
		return returnBadRequest(c, err)
	}
	record, err := h.services.Persistence.LoadAutotuneRun(id)
	if errors.Is(err, os.ErrNotExist) {
		return returnNotFound(c, c.Param(urlParamId))
	} else if err != nil {
		return returnError(c, err)
	}
	return c.JSONPretty(http.StatusOK, record, indentationChar)
}

func (h *handlers) deleteHistoryEntry(c echo.Context) error {
	if h.services.Persistence == nil {
		return returnNotFound(c, "history")
	}
	id, err := parseId(c)
	if err != nil {
		return returnBadRequest(c, err)
	}
	if err = h.services.Persistence.DeleteAutotuneRun(id); err != nil {
		return returnError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseId(c echo.Context) (uint64, error) {
	return strconv.ParseUint(c.Param(urlParamId), 10, 64)
}
