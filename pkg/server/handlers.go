package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mercator-hq/costplane/pkg/budget"
	"mercator-hq/costplane/pkg/controlplane"
	"mercator-hq/costplane/pkg/ledger"
	"mercator-hq/costplane/pkg/server/middleware"
)

// Error types of the JSON envelope.
const (
	errTypeInvalidRequest     = "invalid_request_error"
	errTypeServerError        = "server_error"
	errTypeServiceUnavailable = "service_unavailable"
	errTypeGatewayTimeout     = "gateway_timeout"
)

type apiHandler struct {
	facade *controlplane.Facade
	logger *slog.Logger
}

func (h *apiHandler) resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.facade.Resolve(r.Context(), controlplane.ResolveRequest{
		FirmID:        req.FirmID,
		OperationType: req.OperationType,
		UserID:        req.UserID,
		CaseID:        req.CaseID,
		Prompt:        req.Prompt,
		Embedding:     req.Embedding,
	})
	if err != nil {
		h.writeFacadeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResolveResponse(res))
}

func (h *apiHandler) record(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.facade.Record(r.Context(), req.toFacade())
	if err != nil {
		h.writeFacadeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordResponse{
		Record: res.Record,
		Cached: res.Cached,
		Budget: res.Decision,
		Alert:  res.Alert,
	})
}

func (h *apiHandler) abandon(w http.ResponseWriter, r *http.Request) {
	var req AbandonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Lease == nil || req.Lease.Key == "" || req.Lease.Token == "" {
		middleware.WriteError(w, http.StatusBadRequest, errTypeInvalidRequest, "missing_field", "lease is required")
		return
	}

	if err := h.facade.Abandon(r.Context(), req.Lease); err != nil {
		h.writeFacadeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) budgetStatus(w http.ResponseWriter, r *http.Request) {
	firmID, ok := firmParam(w, r)
	if !ok {
		return
	}
	h.writeStatus(w, r, firmID)
}

func (h *apiHandler) setBudget(w http.ResponseWriter, r *http.Request) {
	firmID, ok := firmParam(w, r)
	if !ok {
		return
	}

	var policy budget.Policy
	if !decodeJSON(w, r, &policy) {
		return
	}
	if policy.MonthlyBudgetCents < 0 {
		middleware.WriteError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid_value",
			"monthly_budget_cents must not be negative")
		return
	}
	if err := h.facade.Governor().SetPolicy(r.Context(), firmID, policy); err != nil {
		h.writeFacadeError(w, r, err)
		return
	}
	h.writeStatus(w, r, firmID)
}

func (h *apiHandler) resumeBudget(w http.ResponseWriter, r *http.Request) {
	firmID, ok := firmParam(w, r)
	if !ok {
		return
	}
	if err := h.facade.Governor().Resume(r.Context(), firmID); err != nil {
		h.writeFacadeError(w, r, err)
		return
	}
	h.writeStatus(w, r, firmID)
}

func (h *apiHandler) writeStatus(w http.ResponseWriter, r *http.Request, firmID string) {
	st, err := h.facade.Governor().Status(r.Context(), firmID)
	if err != nil {
		h.writeFacadeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// usage summarizes the firm's ledger. The window defaults to the current
// budget month.
func (h *apiHandler) usage(w http.ResponseWriter, r *http.Request) {
	firmID, ok := firmParam(w, r)
	if !ok {
		return
	}

	period := h.facade.Governor().Period()
	from, to := period.Start, period.End

	q := r.URL.Query()
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid_value",
				fmt.Sprintf("%s must be an RFC 3339 timestamp", name))
			return
		}
		*dst = t
	}
	if !from.Before(to) {
		middleware.WriteError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid_value", "from must be before to")
		return
	}

	summaries, err := h.facade.Ledger().Summarize(r.Context(), ledger.Filter{FirmID: firmID, From: from, To: to})
	if err != nil {
		h.writeFacadeError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []ledger.Summary{}
	}
	writeJSON(w, http.StatusOK, UsageResponse{FirmID: firmID, From: from, To: to, Summaries: summaries})
}

// writeFacadeError maps control-plane errors to HTTP statuses.
func (h *apiHandler) writeFacadeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, controlplane.ErrInvalidContext):
		middleware.WriteError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid_context", err.Error())
	case errors.Is(err, controlplane.ErrLedgerWriteFailed):
		middleware.WriteError(w, http.StatusServiceUnavailable, errTypeServiceUnavailable, "ledger_unavailable",
			"usage could not be recorded")
	case errors.Is(err, context.DeadlineExceeded):
		middleware.WriteError(w, http.StatusGatewayTimeout, errTypeGatewayTimeout, "timeout", "request timed out")
	case errors.Is(err, context.Canceled):
		middleware.WriteError(w, http.StatusServiceUnavailable, errTypeServiceUnavailable, "cancelled", "request cancelled")
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, errTypeServerError, "internal_error",
			"An internal error occurred. Please try again later.")
	}
}

func firmParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	firmID := strings.TrimSpace(r.PathValue("firm"))
	if firmID == "" {
		middleware.WriteError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid_context", "firm id is required")
		return "", false
	}
	return firmID, true
}

// decodeJSON reads the request body into dst and writes the error response
// itself when it cannot.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, errTypeInvalidRequest, "request_too_large",
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return false
	}
	middleware.WriteError(w, http.StatusBadRequest, errTypeInvalidRequest, "invalid_json",
		fmt.Sprintf("invalid JSON body: %v", err))
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
