package simulator

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivetune/drivetune/internal/api"
	"github.com/drivetune/drivetune/internal/protocol"
	"github.com/drivetune/drivetune/internal/ui"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/oklog/run"
	cmap "github.com/orcaman/concurrent-map/v2"
)

const (
	// WebsocketPath is the endpoint of the controller, the same as on the robot
	WebsocketPath = "/ws/"
	writeTimeout  = 2 * time.Second
)

type Options struct {
	Plant         PlantOptions
	TelemetryRate time.Duration
}

type client struct {
	id   uint32
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Encode()))
}

// Server exposes a simulated controller over websocket
type Server struct {
	options    Options
	controller *Controller
	upgrader   websocket.Upgrader

	clients     cmap.ConcurrentMap[string, *client]
	lastId      atomic.Uint32
	controlling atomic.Uint32
}

func NewServer(options Options) *Server {
	if options.TelemetryRate <= 0 {
		options.TelemetryRate = 50 * time.Millisecond
	}
	return &Server{
		options:    options,
		controller: NewController(NewPlant(options.Plant)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: cmap.New[*client](),
	}
}

func (s *Server) Controller() *Controller {
	return s.controller
}

// CreateWebserver returns the echo instance serving the websocket endpoint
func (s *Server) CreateWebserver() *echo.Echo {
	webserver := api.CreateWebserver()
	webserver.GET(WebsocketPath, s.handleWebsocket)
	return webserver
}

func (s *Server) handleWebsocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &client{id: s.lastId.Add(1), conn: conn}
	key := strconv.FormatUint(uint64(cl.id), 10)
	s.clients.Set(key, cl)
	ui.Info("Client %d connected from %s", cl.id, c.RealIP())

	defer func() {
		s.clients.Remove(key)
		_ = conn.Close()
		if s.controlling.CompareAndSwap(cl.id, 0) {
			s.broadcast(protocol.Control{ControllingClientId: 0})
		}
		ui.Info("Client %d disconnected", cl.id)
	}()

	_ = cl.send(protocol.Welcome{ClientId: cl.id})
	_ = cl.send(protocol.Control{ControllingClientId: s.controlling.Load()})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		s.handleCommand(cl, string(data))
	}
}

func (s *Server) handleCommand(cl *client, raw string) {
	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		_ = cl.send(protocol.Log{Message: err.Error()})
		return
	}

	switch cmd.Name {
	case protocol.CommandRequestControl:
		s.controlling.Store(cl.id)
		s.broadcast(protocol.Control{ControllingClientId: cl.id})
		return
	case protocol.CommandReleaseControl:
		if s.controlling.CompareAndSwap(cl.id, 0) {
			s.broadcast(protocol.Control{ControllingClientId: 0})
		}
		return
	}

	// reading the configuration is allowed for everyone, all other commands require control
	// unless nobody holds it
	if holder := s.controlling.Load(); holder != 0 && holder != cl.id && cmd.Name != protocol.CommandConfigGet {
		_ = cl.send(protocol.Log{Message: "Command " + cmd.Name + " rejected, client " + strconv.FormatUint(uint64(holder), 10) + " has control"})
		return
	}

	replies, err := s.controller.Handle(cmd)
	if err != nil {
		ui.Debug("Client %d: %v", cl.id, err)
		_ = cl.send(protocol.Log{Message: err.Error()})
		return
	}
	for _, reply := range replies {
		_ = cl.send(reply)
	}
}

func (s *Server) broadcast(msg protocol.Message) {
	for _, cl := range s.clients.Items() {
		if err := cl.send(msg); err != nil {
			ui.Debug("Unable to send to client %d: %v", cl.id, err)
		}
	}
}

func (s *Server) closeClients() {
	for _, cl := range s.clients.Items() {
		cl.mu.Lock()
		_ = cl.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeTimeout))
		cl.mu.Unlock()
		_ = cl.conn.Close()
	}
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// RunSimulation advances the simulation at the telemetry rate and broadcasts its messages
func (s *Server) RunSimulation(ctx context.Context) error {
	ticker := time.NewTicker(s.options.TelemetryRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, msg := range s.controller.Tick(s.options.TelemetryRate) {
				s.broadcast(msg)
			}
		}
	}
}

// Serve runs the webserver and the simulation until the context is done
func (s *Server) Serve(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webserver := s.CreateWebserver()

	var g run.Group
	{
		g.Add(func() error {
			ui.Info("Simulated controller listening on ws://%s%s", addr, WebsocketPath)
			err := webserver.Start(addr)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(err error) {
			timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer timeoutCancel()
			if err := webserver.Shutdown(timeoutCtx); err != nil {
				ui.Warning("Error stopping simulator webserver: %v", err)
			}
			// hijacked websocket connections are not closed by Shutdown
			s.closeClients()
		})
	}
	{
		g.Add(func() error {
			return s.RunSimulation(ctx)
		}, func(err error) {
			cancel()
		})
	}
	{
		g.Add(func() error {
			<-ctx.Done()
			return nil
		}, func(err error) {
			cancel()
		})
	}

	return g.Run()
}
