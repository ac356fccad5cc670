package handler

import (
	"context"
	"net/http"
	"time"
)

// --- Handler: GET /ops/trips/active?page=X&page_size=Y ---

func (handler *OpsHTTPHandler) handleActiveTrips(w http.ResponseWriter, r *http.Request) {
	// generate a context with request ID
	ctx := handler.withReqID(r.Context(), r)

	// get the query parameters
	query := r.URL.Query()
	page := query.Get("page")
	pageSize := query.Get("page_size")

	// bound service call
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// get the live trips
	trips, err := handler.svc.GetActiveTrips(ctxWithTimeout, page, pageSize)
	if err != nil {
		handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "failed to fetch active trips", err)
		return
	}

	// return the live trips
	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, trips)
}
