package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"sunset/internal/closure"
	"sunset/internal/domain"
	"sunset/internal/process"
	"sunset/internal/store"
)

const maxBodyBytes = 1 << 20

// Server serves the account closure HTTP API.
type Server struct {
	svc    *closure.Service
	runner *process.Runner
	store  store.AuditStore
	log    *slog.Logger
}

// NewServer creates a new Server. st may be nil, in which case the audit
// endpoint returns an empty trail.
func NewServer(svc *closure.Service, runner *process.Runner, st store.AuditStore, log *slog.Logger) *Server {
	return &Server{
		svc:    svc,
		runner: runner,
		store:  st,
		log:    log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /account-closure/check-readiness/{account_id}", s.handleReadiness)
	mux.HandleFunc("POST /account-closure/initiate/{account_id}", s.handleInitiate)
	mux.HandleFunc("GET /account-closure/status/{account_id}", s.handleStatus)
	mux.HandleFunc("POST /account-closure/withdraw-funds/{account_id}", s.handleWithdraw)
	mux.HandleFunc("GET /account-closure/settlement-status/{account_id}", s.handleSettlement)
	mux.HandleFunc("GET /account-closure/withdrawal-status/{account_id}/{transfer_id}", s.handleWithdrawalStatus)
	mux.HandleFunc("POST /account-closure/close-account/{account_id}", s.handleClose)
	mux.HandleFunc("POST /account-closure/resume/{account_id}", s.handleResume)
	mux.HandleFunc("GET /account-closure/audit/{account_id}", s.handleAudit)
}

// Handler returns an http.Handler with logging and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return Logging(s.log)(corsMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := s.svc.CheckPreconditions(r.Context(), r.PathValue("account_id"))
	switch {
	case ready.Ready:
		writeJSON(w, http.StatusOK, ready)
	case ready.Code != "":
		writeJSON(w, http.StatusBadRequest, ready)
	default:
		writeJSON(w, http.StatusInternalServerError, ready)
	}
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body: "+err.Error())
		return
	}
	if !req.ConfirmPermanentClosure {
		writeError(w, http.StatusBadRequest, "confirmation_required",
			"confirm_permanent_closure must be true to close the account")
		return
	}

	res := s.runner.Start(r.Context(), r.PathValue("account_id"), req.TransferRelationshipID)
	if !res.Success {
		writeResult(w, statusFor(res.ActionResult), res.ActionResult)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStatus answers for any account the brokerage knows, initiated or
// not: status is derived from the live snapshot, and the closure context is
// the brokerage account itself. Only an unknown account is a 404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetClosureStatus(r.Context(), r.PathValue("account_id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body: "+err.Error())
		return
	}

	res := s.svc.WithdrawFunds(r.Context(), r.PathValue("account_id"), req.TransferRelationshipID, req.Amount)
	if !res.Success {
		writeResult(w, statusFor(res), res)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{
		Success:    true,
		TransferID: res.TransferID,
		Status:     res.TransferStatus,
		Amount:     res.Amount,
		Message:    res.Message,
	})
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.SettlementStatus(r.Context(), r.PathValue("account_id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.WithdrawalStatus(r.Context(), r.PathValue("account_id"), r.PathValue("transfer_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body: "+err.Error())
		return
	}
	if !req.FinalConfirmation {
		writeError(w, http.StatusBadRequest, "confirmation_required",
			"final_confirmation must be true to close the account")
		return
	}

	res := s.svc.CloseAccount(r.Context(), r.PathValue("account_id"))
	if !res.Success {
		writeResult(w, statusFor(res), res)
		return
	}
	writeJSON(w, http.StatusOK, CloseResponse{
		Success:       true,
		AccountStatus: res.AccountStatus,
		Message:       res.Message,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid request body: "+err.Error())
		return
	}

	res := s.runner.Resume(r.Context(), r.PathValue("account_id"), req.TransferRelationshipID)
	writeJSON(w, resumeStatus(res), res)
}

// resumeStatus maps a resume outcome to an HTTP status. Validation outcomes
// such as a missing relationship id are part of the normal result.
func resumeStatus(res domain.ActionResult) int {
	switch {
	case res.Code == process.CodeInProgress:
		return http.StatusConflict
	case res.Step == closure.StepResumeError, res.Code == domain.CodeUnknownStep:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account_id")
	resp := AuditResponse{AccountID: accountID, Events: []domain.ClosureEvent{}}
	if s.store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "", "invalid limit")
			return
		}
		limit = n
	}

	events, err := s.store.ListClosureEvents(r.Context(), accountID, limit)
	if err != nil {
		s.log.Error("listing audit events", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "", err.Error())
		return
	}
	if events != nil {
		resp.Events = events
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps a failed result to an HTTP status: validation codes are
// client errors, anything else is a server error.
func statusFor(res domain.ActionResult) int {
	switch res.Code {
	case "":
		return http.StatusInternalServerError
	case domain.CodeRelationshipRequired:
		return http.StatusUnprocessableEntity
	case process.CodeInProgress:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "", err.Error())
}

func writeResult(w http.ResponseWriter, status int, res domain.ActionResult) {
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   res.Error,
		Code:    res.Code,
		Step:    res.Step,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg, Code: code})
}
