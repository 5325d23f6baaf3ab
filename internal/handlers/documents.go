package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/tenantocrflow/internal/models"
	"github.com/Lllllllleong/tenantocrflow/internal/services"
)

// Submitter ingests documents.
type Submitter interface {
	Submit(ctx context.Context, in services.SubmitInput) (*models.SubmitDocumentResponse, error)
}

// Querier reads state records.
type Querier interface {
	Query(ctx context.Context, tenantID, requestID string) (*models.ProcessingRequest, error)
}

// SubmitDocument handles POST /documents.
func SubmitDocument(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.SubmitDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("Could not decode request body", "error", err)
			http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
			return
		}

		res, err := svc.Submit(r.Context(), services.SubmitInput{
			TenantID:       r.Header.Get(HeaderTenantID),
			RequestID:      r.Header.Get(HeaderRequestID),
			DocumentType:   req.DocumentType,
			CorrelationID:  req.CorrelationID,
			DocumentBase64: req.Document,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set(HeaderRequestID, res.RequestID)
		writeJSON(w, res)
	}
}

// QueryDocument handles GET /documents. A completed request returns the stored completion
// envelope as is; a pending one returns its status.
func QueryDocument(svc Querier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Query(r.Context(), r.Header.Get(HeaderTenantID), r.Header.Get(HeaderRequestID))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set(HeaderRequestStatus, string(rec.Status))
		if rec.Status == models.StatusProcessed {
			w.Header().Set("Content-Type", "application/json")
			if _, err := w.Write([]byte(rec.QueueResult)); err != nil {
				slog.Error("Failed to write response", "error", err, "requestId", rec.RequestID)
			}
			return
		}
		writeJSON(w, models.RequestStatusResponse{
			TenantID:  rec.TenantID,
			RequestID: rec.RequestID,
			Status:    rec.Status,
			CreatedAt: models.FormatTime(rec.CreatedAt),
			UpdatedAt: models.FormatTime(rec.UpdatedAt),
		})
	}
}
