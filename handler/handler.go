package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loan-counselor/internal/domain"
	"loan-counselor/internal/usecase"
	"loan-counselor/internal/workpool"
)

const (
	correlationHeader     = "X-Correlation-Id"
	defaultRequestWorkers = 3
	maxBodyBytes          = 1 << 20
)

var (
	requiredRequestFields = []string{"message", "student_details", "userId"}
	requiredStudentFields = []string{"name", "origin_country", "destination_country", "loan_amount_needed", "course_of_study"}
)

// CounselorService is the conversation lifecycle consumed by the handler.
type CounselorService interface {
	HandleTurn(ctx context.Context, in usecase.TurnInput) (domain.TurnResult, error)
	Reset(userID string)
	BuildReport(ctx context.Context, userID string) (domain.Report, error)
}

type Handler struct {
	svc    CounselorService
	pool   *workpool.Pool
	logger *slog.Logger
}

type Option func(*Handler)

// WithRequestPool bounds how many requests reach the counselor at once.
func WithRequestPool(p *workpool.Pool) Option {
	return func(h *Handler) {
		if p != nil {
			h.pool = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(svc CounselorService, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: counselor service must not be nil")
	}
	h := &Handler{
		svc:    svc,
		pool:   workpool.New("request", defaultRequestWorkers),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type chatResponse struct {
	Response domain.TurnResult `json:"response"`
}

type resetResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes API Gateway proxy requests.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return respond(correlationID, http.StatusBadRequest, errorResponse{Error: "Request body is not valid base64"}), nil
		}
		body = string(decoded)
	}

	path := "/" + strings.Trim(req.Path, "/")
	switch {
	case req.HTTPMethod == http.MethodOptions:
		return respond(correlationID, http.StatusNoContent, nil), nil
	case req.HTTPMethod == http.MethodPost && path == "/chat":
		return h.chat(ctx, logger, correlationID, body), nil
	case req.HTTPMethod == http.MethodPost && path == "/reset":
		return h.reset(logger, correlationID, body), nil
	case req.HTTPMethod == http.MethodPost && path == "/user-report":
		return h.userReport(ctx, logger, correlationID, body), nil
	default:
		return respond(correlationID, http.StatusNotFound, errorResponse{Error: "Not found"}), nil
	}
}

func (h *Handler) chat(ctx context.Context, logger *slog.Logger, correlationID, body string) events.APIGatewayProxyResponse {
	in, msg := parseChatRequest(body)
	if msg != "" {
		return respond(correlationID, http.StatusBadRequest, errorResponse{Error: msg, Code: string(usecase.ErrorValidation)})
	}

	var result domain.TurnResult
	err := h.pool.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = h.svc.HandleTurn(ctx, in)
		return err
	})
	if err != nil {
		return h.errorResult(logger, correlationID, "chat", err)
	}
	return respond(correlationID, http.StatusOK, chatResponse{Response: result})
}

func (h *Handler) reset(logger *slog.Logger, correlationID, body string) events.APIGatewayProxyResponse {
	userID, ok := parseUserID(body)
	if !ok {
		return respond(correlationID, http.StatusBadRequest, errorResponse{Error: "Missing userId in request", Code: string(usecase.ErrorValidation)})
	}
	h.svc.Reset(userID)
	logger.Info("reset requested", "user_id", userID)
	return respond(correlationID, http.StatusOK, resetResponse{Message: "Conversation history cleared successfully"})
}

func (h *Handler) userReport(ctx context.Context, logger *slog.Logger, correlationID, body string) events.APIGatewayProxyResponse {
	userID, ok := parseUserID(body)
	if !ok {
		return respond(correlationID, http.StatusBadRequest, errorResponse{Error: "Missing userId in request", Code: string(usecase.ErrorValidation)})
	}

	var report domain.Report
	err := h.pool.Run(ctx, func(ctx context.Context) error {
		var err error
		report, err = h.svc.BuildReport(ctx, userID)
		return err
	})
	if err != nil {
		return h.errorResult(logger, correlationID, "user-report", err)
	}
	return respond(correlationID, http.StatusOK, report)
}

// parseChatRequest returns the turn input or a caller-facing validation
// message.
func parseChatRequest(body string) (usecase.TurnInput, string) {
	var fields map[string]json.RawMessage
	if strings.TrimSpace(body) == "" {
		return usecase.TurnInput{}, "Request body is empty"
	}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return usecase.TurnInput{}, "Request body must be a JSON object"
	}
	if len(fields) == 0 {
		return usecase.TurnInput{}, "Request body is empty"
	}
	if missing := missingKeys(fields, requiredRequestFields); len(missing) > 0 {
		return usecase.TurnInput{}, "Missing required fields: " + strings.Join(missing, ", ")
	}

	var details map[string]json.RawMessage
	if err := json.Unmarshal(fields["student_details"], &details); err != nil || details == nil {
		return usecase.TurnInput{}, "student_details must be a JSON object"
	}
	for key, v := range details {
		if first := firstByte(v); first == '{' || first == '[' {
			return usecase.TurnInput{}, fmt.Sprintf("student_details.%s must be a scalar value", key)
		}
	}
	if missing := missingKeys(details, requiredStudentFields); len(missing) > 0 {
		return usecase.TurnInput{}, "Missing required student details: " + strings.Join(missing, ", ")
	}

	var in usecase.TurnInput
	if err := json.Unmarshal(fields["message"], &in.Message); err != nil {
		return usecase.TurnInput{}, "message must be a string"
	}
	if err := json.Unmarshal(fields["userId"], &in.UserID); err != nil {
		return usecase.TurnInput{}, "userId must be a string"
	}

	for _, f := range []struct {
		key string
		dst *string
	}{
		{"name", &in.Profile.Name},
		{"origin_country", &in.Profile.OriginCountry},
		{"destination_country", &in.Profile.DestinationCountry},
		{"course_of_study", &in.Profile.CourseOfStudy},
	} {
		if err := json.Unmarshal(details[f.key], f.dst); err != nil {
			return usecase.TurnInput{}, fmt.Sprintf("student_details.%s must be a string", f.key)
		}
	}
	var amount decimal.Decimal
	if err := json.Unmarshal(details["loan_amount_needed"], &amount); err != nil {
		return usecase.TurnInput{}, "student_details.loan_amount_needed must be a number or numeric string"
	}
	in.Profile.LoanAmountNeeded = amount
	return in, ""
}

func parseUserID(body string) (string, bool) {
	var req struct {
		UserID *string `json:"userId"`
	}
	if err := json.Unmarshal([]byte(body), &req); err != nil || req.UserID == nil {
		return "", false
	}
	userID := strings.TrimSpace(*req.UserID)
	return userID, userID != ""
}

func missingKeys(m map[string]json.RawMessage, keys []string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func firstByte(raw json.RawMessage) byte {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0
	}
	return s[0]
}

func (h *Handler) errorResult(logger *slog.Logger, correlationID, route string, err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.Error("request failed", "route", route, "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return respond(correlationID, http.StatusRequestTimeout, errorResponse{Error: "Request timed out", Code: string(usecase.ErrorTimeout)})
		}
		return respond(correlationID, http.StatusInternalServerError, errorResponse{Error: "Internal server error", Code: string(usecase.ErrorInternal)})
	}

	status, message := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "route", route, "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		logger.Warn("request rejected", "route", route, "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return respond(correlationID, status, errorResponse{Error: message, Code: string(ucErr.Code), Reason: ucErr.Reason})
}

func statusFor(code usecase.ErrorCode) (int, string) {
	switch code {
	case usecase.ErrorValidation:
		return http.StatusBadRequest, "Invalid request"
	case usecase.ErrorTimeout:
		return http.StatusRequestTimeout, "Request timed out"
	case usecase.ErrorModel:
		return http.StatusBadGateway, "Error getting recommendation"
	case usecase.ErrorReportParse:
		return http.StatusBadGateway, "Error getting user report"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func respond(correlationID string, status int, payload any) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Content-Type, " + correlationHeader,
		"Access-Control-Allow-Methods": "POST, OPTIONS",
		correlationHeader:              correlationID,
	}
	if payload == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"error":"Internal server error"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(b)}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ServeHTTP adapts the handler to net/http for local serving.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		correlationID := headerValue(headers, correlationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		h.logger.Warn("request body unreadable", "correlation_id", correlationID, "err", err)
		writeResponse(w, respond(correlationID, http.StatusBadRequest, errorResponse{Error: "Request body could not be read"}))
		return
	}

	resp, _ := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       string(body),
	})
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
