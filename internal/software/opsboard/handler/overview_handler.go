package handler

import (
	"context"
	"net/http"
	"time"
)

// --- Handler: GET /ops/overview ---

func (handler *OpsHTTPHandler) handleOverview(w http.ResponseWriter, r *http.Request) {
	// generate a context with request ID
	ctx := handler.withReqID(r.Context(), r)

	// bound service call
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// get the system overview
	overview, err := handler.svc.GetSystemOverview(ctxWithTimeout)
	if err != nil {
		handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "failed to fetch system overview", err)
		return
	}

	// return the system overview
	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, overview)
}
