package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"qms/branch-queue/internal/feedback"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/queue"
	"qms/branch-queue/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// QueueService is the part of queue.Ledger the transport needs.
type QueueService interface {
	CheckIn(ctx context.Context, in queue.CheckInInput) (models.Customer, error)
	UpdateStatus(ctx context.Context, customerID, status, tellerID string) (models.Customer, error)
	ServeNext(ctx context.Context, tellerID string) (models.Customer, error)
	NextForTeller(ctx context.Context, tellerID string) (models.Customer, bool, error)
	ListToday(ctx context.Context) ([]models.Customer, error)
	FindAvailableTeller(ctx context.Context, serviceType string) (models.Teller, bool, error)
	ListTellers(ctx context.Context) ([]models.Teller, error)
	Stats(ctx context.Context) (queue.QueueStats, error)
	History(ctx context.Context, customerID string) ([]store.CustomerEvent, error)
}

type FeedbackService interface {
	Submit(ctx context.Context, in feedback.SubmitInput) (models.Feedback, error)
	List(ctx context.Context) ([]models.Feedback, error)
}

type Handler struct {
	queue    QueueService
	feedback FeedbackService
	log      *zap.Logger
}

type checkInRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	ServiceType string `json:"service_type"`
}

type statusUpdateRequest struct {
	Status   string `json:"status"`
	TellerID string `json:"teller_id"`
}

type feedbackRequest struct {
	Category string  `json:"category"`
	Rating   int     `json:"rating"`
	Comment  *string `json:"comment"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(q QueueService, fb FeedbackService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{queue: q, feedback: fb, log: log}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/customers", h.handleCustomers)
	mux.HandleFunc("/customers/", h.handleCustomerRoutes)
	mux.HandleFunc("/tellers", h.handleTellers)
	mux.HandleFunc("/tellers/", h.handleTellerRoutes)
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/feedback", h.handleFeedback)
	mux.HandleFunc("/feedback/", h.handleFeedback)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCheckIn(w, r)
	case http.MethodGet:
		h.handleListToday(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleCustomerRoutes serves /customers/, /customers/{id}/status and
// /customers/{id}/events.
func (h *Handler) handleCustomerRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/customers/"), "/")
	if path == "" {
		h.handleCustomers(w, r)
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	customerID := parts[0]
	switch parts[1] {
	case "status":
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleUpdateStatus(w, r, customerID)
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHistory(w, r, customerID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	customer, err := h.queue.CheckIn(r.Context(), queue.CheckInInput{
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		ServiceType: req.ServiceType,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleListToday(w http.ResponseWriter, r *http.Request) {
	customers, err := h.queue.ListToday(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request, customerID string) {
	var req statusUpdateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "status is required")
		return
	}
	customer, err := h.queue.UpdateStatus(r.Context(), customerID, req.Status, req.TellerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, customerID string) {
	events, err := h.queue.History(r.Context(), customerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleTellers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tellers, err := h.queue.ListTellers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tellers)
}

// handleTellerRoutes serves /tellers/, /tellers/available,
// /tellers/{id}/next and /tellers/{id}/serve-next.
func (h *Handler) handleTellerRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tellers/"), "/")
	switch path {
	case "":
		h.handleTellers(w, r)
		return
	case "available":
		h.handleAvailableTeller(w, r)
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tellerID := parts[0]
	switch parts[1] {
	case "next":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleNextForTeller(w, r, tellerID)
	case "serve-next":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleServeNext(w, r, tellerID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleAvailableTeller(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	serviceType := strings.TrimSpace(r.URL.Query().Get("service_type"))
	if serviceType == "" {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "service_type is required")
		return
	}
	teller, found, err := h.queue.FindAvailableTeller(r.Context(), serviceType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, teller)
}

func (h *Handler) handleNextForTeller(w http.ResponseWriter, r *http.Request, tellerID string) {
	customer, found, err := h.queue.NextForTeller(r.Context(), tellerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleServeNext(w http.ResponseWriter, r *http.Request, tellerID string) {
	customer, err := h.queue.ServeNext(r.Context(), tellerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if strings.Trim(strings.TrimPrefix(r.URL.Path, "/feedback"), "/") != "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req feedbackRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		created, err := h.feedback.Submit(r.Context(), feedback.SubmitInput{
			Category: req.Category,
			Rating:   req.Rating,
			Comment:  req.Comment,
		})
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, created)
	case http.MethodGet:
		list, err := h.feedback.List(r.Context())
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
	}
	writeError(w, requestID(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrCustomerNotFound):
		return http.StatusNotFound, "customer_not_found", "customer not found"
	case errors.Is(err, store.ErrNoWaitingCustomer):
		return http.StatusNotFound, "queue_empty", "no customer is waiting for this teller"
	case errors.Is(err, store.ErrTellerUnavailable):
		return http.StatusConflict, "teller_unavailable", err.Error()
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", err.Error()
	case errors.Is(err, store.ErrTellerNotFound):
		return http.StatusNotFound, "teller_not_found", "teller not found"
	case errors.Is(err, store.ErrStorage):
		return http.StatusServiceUnavailable, "storage_unavailable", "storage temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func requestID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(requestIDHeader))
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}
