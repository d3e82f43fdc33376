package server

import (
	"net/http"
	"strings"
)

type requestStatusResponse struct {
	RequestID  string `json:"request_id"`
	Variant    string `json:"variant"`
	Status     string `json:"status"`
	Activation any    `json:"activation"`
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		http.NotFound(w, r)
		return
	}

	entry, ok := s.requestStore.Get(requestID, clientFromContext(r.Context()))
	if !ok {
		http.NotFound(w, r)
		return
	}

	resp := requestStatusResponse{
		RequestID: requestID,
		Variant:   entry.variant,
		Status:    entry.status,
	}
	if entry.status == "completed" && entry.activation != nil {
		resp.Activation = entry.activation
	}
	writeJSON(w, http.StatusOK, resp)
}
