package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/parser"
	"github.com/inkwelldata/docpipe/internal/webhookrecv"
)

type CallbackHandler struct {
	receiver *webhookrecv.Receiver
}

func NewCallbackHandler(rcv *webhookrecv.Receiver) *CallbackHandler {
	return &CallbackHandler{receiver: rcv}
}

// ParseCallback receives the parsing service's outcome for one job. The
// job ID rides the URL; the shared secret rides the body.
func (h *CallbackHandler) ParseCallback(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job ID"})
		return
	}

	var cb parser.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid callback body"})
		return
	}
	cb.JobID = jobID

	err = h.receiver.HandleParseCallback(r.Context(), cb)
	switch {
	case errors.Is(err, webhookrecv.ErrUnknownJob):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
	case errors.Is(err, webhookrecv.ErrSecretMismatch):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, webhookrecv.ErrWrongState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job not awaiting parse"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}
