package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	urlParamId      = "id"
	indentationChar = "  "
)

type (
	Result struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
)

// CreateWebserver returns an echo instance with the middleware shared by all servers of drivetune
func CreateWebserver() *echo.Echo {
	webserver := echo.New()
	webserver.HideBanner = true
	webserver.HidePort = true

	// Root level middleware
	webserver.Pre(middleware.AddTrailingSlash())

	webserver.Use(middleware.Secure())
	webserver.Use(middleware.Recover())

	return webserver
}

// returns an empty "ok" answer
func isAlive(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// return a "not found" message
func returnNotFound(c echo.Context, id string) (err error) {
	return c.JSONPretty(http.StatusNotFound, &Result{
		Name:    "Not found",
		Message: "No item with id '" + id + "' found",
	}, indentationChar)
}

// return a message describing why the request cannot be processed
func returnBadRequest(c echo.Context, e error) (err error) {
	return c.JSONPretty(http.StatusBadRequest, &Result{
		Name:    "Bad Request",
		Message: e.Error(),
	}, indentationChar)
}

func returnConflict(c echo.Context, message string) (err error) {
	return c.JSONPretty(http.StatusConflict, &Result{
		Name:    "Conflict",
		Message: message,
	}, indentationChar)
}

func returnUnavailable(c echo.Context, e error) (err error) {
	return c.JSONPretty(http.StatusServiceUnavailable, &Result{
		Name:    "Robot unavailable",
		Message: e.Error(),
	}, indentationChar)
}

// return the error message of an error
func returnError(c echo.Context, e error) (err error) {
	return c.JSONPretty(http.StatusInternalServerError, &Result{
		Name:    "Unknown Error",
		Message: e.Error(),
	}, indentationChar)
}
