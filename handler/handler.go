package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"coronabot-fulfillment/internal/domain"
	"coronabot-fulfillment/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Fulfiller interface {
	Fulfill(ctx context.Context, req domain.TurnRequest) (domain.TurnResponse, error)
}

type Handler struct {
	fulfiller Fulfiller
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
}

func NewHandler(f Fulfiller) (*Handler, error) {
	if f == nil {
		return nil, errors.New("handler: fulfiller must not be nil")
	}
	return &Handler{fulfiller: f}, nil
}

// Handle serves one Dialogflow webhook call delivered through API Gateway.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := correlationIDFrom(event.Headers)
	logger := slog.Default().With("correlation_id", correlationID)

	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", event.HTTPMethod)
		return errorJSON(http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, correlationID), nil
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			logger.WarnContext(ctx, "invalid base64 body", "err", err)
			return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID), nil
		}
		body = decoded
	}

	req, err := decodeWebhookRequest(body)
	if err != nil {
		logger.WarnContext(ctx, "invalid webhook request", "err", err)
		return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, correlationID), nil
	}
	logger = logger.With("intent", req.IntentID, "session", req.SessionID)

	resp, err := h.fulfiller.Fulfill(ctx, req)
	if err != nil {
		status, code := statusFor(err)
		logger.ErrorContext(ctx, "fulfillment failed", "status", status, "code", code, "err", err)
		return errorJSON(status, code, correlationID), nil
	}

	buf, err := encodeWebhookResponse(req.SessionID, resp)
	if err != nil {
		logger.ErrorContext(ctx, "encode response failed", "err", err)
		return errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, correlationID), nil
	}

	logger.InfoContext(ctx, "fulfillment handled",
		"status", http.StatusOK,
		"fragments", len(resp.Fragments),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    responseHeaders(correlationID),
		Body:       string(buf),
	}, nil
}

func statusFor(err error) (int, usecase.ErrorCode) {
	code := usecase.CodeOf(err)
	switch {
	case code == usecase.ErrorUnknownIntent:
		return http.StatusNotFound, code
	case code.ClientFault():
		return http.StatusBadRequest, code
	case code == usecase.ErrorPredictionUnavailable:
		return http.StatusBadGateway, code
	default:
		return http.StatusInternalServerError, code
	}
}

func errorJSON(status int, code usecase.ErrorCode, correlationID string) events.APIGatewayProxyResponse {
	buf, _ := json.Marshal(errorResponse{Error: string(code), CorrelationID: correlationID})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(correlationID),
		Body:       string(buf),
	}
}

func responseHeaders(correlationID string) map[string]string {
	return map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: correlationID,
	}
}

func correlationIDFrom(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}
