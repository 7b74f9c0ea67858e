// cmd/backend.go
//
// Simulated classification backend for local runs and load tests. It mirrors
// the production contract the proxy is built against: batches of at most
// five sequences, one request served at a time (429 on overlap), and a
// per-call latency of cost_coeff · max_len² seconds.
package cmd

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/batchgate/batchgate/proxy"
)

var (
	backendListen string
	costCoeff     float64
	backendSeed   int64
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run a simulated classification backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		logrus.Infof("Starting simulated backend: listen=%s cost_coeff=%g seed=%d", backendListen, costCoeff, backendSeed)

		// The busy gate makes the handler effectively single-threaded, so
		// the rng needs no further synchronization.
		rng := rand.New(rand.NewSource(backendSeed))
		var busy atomic.Bool

		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "batchgate-backend",
		})

		app.Post("/classify", func(c *fiber.Ctx) error {
			if !busy.CompareAndSwap(false, true) {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"detail": "rate limit exceeded: only one request can be processed at a time",
				})
			}
			defer busy.Store(false)

			var in struct {
				Sequences []string `json:"sequences"`
			}
			if err := c.BodyParser(&in); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "invalid request body"})
			}
			if len(in.Sequences) == 0 || len(in.Sequences) > proxy.MaxBatchSize {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"detail": "batch must contain between 1 and 5 sequences",
				})
			}

			maxLen := 0
			for _, s := range in.Sequences {
				if len(s) > maxLen {
					maxLen = len(s)
				}
			}
			latency := time.Duration(costCoeff * float64(maxLen*maxLen) * float64(time.Second))
			logrus.Debugf("[classify] batch=%d max_len=%d latency=%v", len(in.Sequences), maxLen, latency.Round(time.Millisecond))
			time.Sleep(latency)

			results := make([]string, len(in.Sequences))
			for i := range in.Sequences {
				if rng.Intn(2) == 0 {
					results[i] = "code"
				} else {
					results[i] = "not code"
				}
			}
			return c.JSON(fiber.Map{"results": results})
		})

		return app.Listen(backendListen)
	},
}

func init() {
	backendCmd.Flags().StringVar(&backendListen, "listen", ":8001", "Backend HTTP listen address")
	backendCmd.Flags().Float64Var(&costCoeff, "cost-coeff", 2e-3, "Latency coefficient k in k*max_len^2 seconds")
	backendCmd.Flags().Int64Var(&backendSeed, "seed", 42, "RNG seed for label generation")

	rootCmd.AddCommand(backendCmd)
}
