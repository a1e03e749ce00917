package api

import (
	"errors"
	"net/http"

	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/transport"
	"github.com/labstack/echo/v4"
	"github.com/qdm12/reprint"
)

type statusResponse struct {
	Connected  bool    `json:"connected"`
	HasControl bool    `json:"hasControl"`
	ClientId   *uint32 `json:"clientId,omitempty"`
}

type commandRequest struct {
	Command string `json:"command"`
}

func registerRobotEndpoints(rest *echo.Echo, h *handlers) {
	rest.GET("/status/", h.getStatus)
	rest.GET("/telemetry/", h.getTelemetry)
	rest.POST("/command/", h.postCommand)
}

func (h *handlers) getStatus(c echo.Context) error {
	robot := h.services.Robot
	if robot == nil {
		return c.JSONPretty(http.StatusOK, statusResponse{}, indentationChar)
	}
	status := statusResponse{
		Connected:  robot.Connected(),
		HasControl: robot.HasControl(),
	}
	if id, ok := robot.ClientId(); ok {
		status.ClientId = &id
	}
	return c.JSONPretty(http.StatusOK, status, indentationChar)
}

// returns the latest telemetry together with the rolling statistics
func (h *handlers) getTelemetry(c echo.Context) error {
	if h.services.Monitor == nil {
		return returnNotFound(c, "telemetry")
	}
	snapshot, ok := h.services.Monitor.Latest()
	if !ok {
		return returnNotFound(c, "telemetry")
	}
	data := reprint.This(snapshot)
	return c.JSONPretty(http.StatusOK, data, indentationChar)
}

// forwards a raw command line to the robot
func (h *handlers) postCommand(c echo.Context) error {
	var request commandRequest
	if err := c.Bind(&request); err != nil {
		return returnBadRequest(c, err)
	}
	cmd, err := protocol.ParseCommand(request.Command)
	if err != nil {
		return returnBadRequest(c, err)
	}
	if h.services.Robot == nil {
		return returnUnavailable(c, transport.ErrNotConnected)
	}
	err = h.services.Robot.Send(cmd)
	if errors.Is(err, transport.ErrNotConnected) {
		return returnUnavailable(c, err)
	} else if err != nil {
		return returnError(c, err)
	}
	return c.JSONPretty(http.StatusAccepted, &Result{
		Name:    "Sent",
		Message: cmd.String(),
	}, indentationChar)
}
