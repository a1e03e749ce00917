package api

import (
	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/monitor"
	"github.com/drivetune/drivetune/internal/persistence"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsSubsystem = "api"

// Robot is the connection to the robot controller as seen by the api
type Robot interface {
	Send(cmd protocol.Command) error
	Connected() bool
	HasControl() bool
	ClientId() (uint32, bool)
}

// Services are the components exposed by the rest api
type Services struct {
	Robot     Robot
	Sequencer *autotune.Sequencer
	Monitor   *monitor.TelemetryMonitor
	// optional, history endpoints respond with 404 without it
	Persistence persistence.Persistence
	Recorder    *persistence.AutotuneRecorder
	// used for every field a start request omits
	AutotuneDefaults autotune.RunConfig

	// defaults to the global prometheus registry
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func CreateRestService(services Services) (*echo.Echo, error) {
	if services.Registerer == nil {
		services.Registerer = prometheus.DefaultRegisterer
	}
	if services.Gatherer == nil {
		services.Gatherer = prometheus.DefaultGatherer
	}

	echoRest := CreateWebserver()
	echoRest.Use(middleware.Logger())

	metricsMiddleware, err := echoprometheus.MiddlewareConfig{
		Namespace:  "drivetune",
		Subsystem:  metricsSubsystem,
		Registerer: services.Registerer,
		Skipper:    skipMetrics,
	}.ToMiddleware()
	if err != nil {
		return nil, err
	}
	echoRest.Use(metricsMiddleware)

	echoRest.GET("/alive/", isAlive)
	echoRest.GET("/metrics/", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: services.Gatherer,
	}))

	h := &handlers{services: services}
	registerRobotEndpoints(echoRest, h)
	registerAutotuneEndpoints(echoRest, h)
	registerCalibrationEndpoints(echoRest, h)

	return echoRest, nil
}

func skipMetrics(c echo.Context) bool {
	return c.Path() == "/metrics/"
}

type handlers struct {
	services Services
}
