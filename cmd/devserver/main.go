// Command devserver runs the fulfillment webhook as a plain HTTP server for
// local testing against a Dialogflow agent or curl. Contexts are kept in
// process memory.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"coronabot-fulfillment/handler"
	"coronabot-fulfillment/internal/domain"
	"coronabot-fulfillment/internal/integrations/prediction"
	"coronabot-fulfillment/internal/session"
	"coronabot-fulfillment/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	baseURL := os.Getenv("PREDICTION_BASE_URL")
	if baseURL == "" {
		slog.Error("required environment variable is not set", "key", "PREDICTION_BASE_URL")
		os.Exit(1)
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	predictor, err := prediction.NewClient(baseURL)
	if err != nil {
		slog.Error("failed to create prediction client", "err", err)
		os.Exit(1)
	}
	svc, err := usecase.NewFulfillmentService(predictor, session.NewMemoryStore(), nil, usecase.Config{
		Registry: domain.NewRegistry(strings.Split(os.Getenv("ACCEPTED_COUNTRIES"), ",")...),
		Debug:    true,
	})
	if err != nil {
		slog.Error("failed to create fulfillment service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	app := fiber.New()
	app.Post("/fulfillment", func(c *fiber.Ctx) error {
		headers := make(map[string]string)
		for k, v := range c.GetReqHeaders() {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}
		resp, err := h.Handle(c.UserContext(), events.APIGatewayProxyRequest{
			HTTPMethod: c.Method(),
			Path:       c.Path(),
			Headers:    headers,
			Body:       string(c.Body()),
		})
		if err != nil {
			return err
		}
		for k, v := range resp.Headers {
			c.Set(k, v)
		}
		return c.Status(resp.StatusCode).SendString(resp.Body)
	})

	slog.Info("devserver listening", "addr", addr)
	if err := app.Listen(addr); err != nil {
		slog.Error("devserver stopped", "err", err)
		os.Exit(1)
	}
}
