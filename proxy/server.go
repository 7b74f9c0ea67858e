// Inbound HTTP surface: one classification endpoint per single-item client,
// plus health and metrics.

package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// submitter is the ingress seam: the server only needs Submit.
type submitter interface {
	Submit(ctx context.Context, sequence string) (string, error)
}

type classifyIn struct {
	Sequence string `json:"sequence"`
}

type classifyOut struct {
	Result string `json:"result"`
}

type errorOut struct {
	Detail string `json:"detail"`
}

// Server exposes the proxy over HTTP.
type Server struct {
	app    *fiber.App
	proxy  submitter
	listen string
}

// NewServer builds the fiber app and its routes.
func NewServer(p submitter, gatherer prometheus.Gatherer, listen string) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "batchgate",
	})
	s := &Server{app: app, proxy: p, listen: listen}

	app.Post("/proxy_classify", s.handleClassify)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

func (s *Server) handleClassify(c *fiber.Ctx) error {
	var in classifyIn
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorOut{Detail: "invalid request body"})
	}

	label, err := s.proxy.Submit(c.UserContext(), in.Sequence)
	switch {
	case err == nil:
		return c.JSON(classifyOut{Result: label})
	case errors.Is(err, ErrEmptySequence):
		return c.Status(fiber.StatusBadRequest).JSON(errorOut{Detail: err.Error()})
	case errors.Is(err, ErrShuttingDown):
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorOut{Detail: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(errorOut{Detail: err.Error()})
	}
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	logrus.Infof("proxy listening on %s", s.listen)
	return s.app.Listen(s.listen)
}

// Shutdown stops accepting connections and waits briefly for handlers.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// App exposes the fiber app for handler tests.
func (s *Server) App() *fiber.App {
	return s.app
}
