package api

import (
	"net/http"

	"github.com/hibridge/engine/generic"
	"github.com/hibridge/engine/notify"
)

// =============================================================================
// PUSH SUBSCRIPTIONS
// =============================================================================

// VAPIDKey returns the public key browsers subscribe with.
// GET /api/push/vapid-key
func (h *Handler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	if h.vapidKey == "" {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "push notifications are not configured", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.vapidKey})
}

// ListSubscriptions returns the caller's registered browsers.
// GET /api/push/subscriptions
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.List(r.Context(), generic.EmployeeID(claimsFrom(r.Context()).UserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	endpoints := make([]string, len(subs))
	for i, s := range subs {
		endpoints[i] = s.Endpoint
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
}

// Subscribe registers (or refreshes) a browser push subscription.
// PUT /api/push/subscriptions
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req PushSubscriptionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	err := h.subs.Put(r.Context(), notify.Subscription{
		EmployeeID: generic.EmployeeID(claimsFrom(r.Context()).UserID),
		Endpoint:   req.Endpoint,
		P256DH:     req.Keys.P256DH,
		Auth:       req.Keys.Auth,
		CreatedAt:  h.now().UTC(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Subscribed"})
}

// Unsubscribe removes a browser push subscription.
// DELETE /api/push/subscriptions
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.subs.Delete(r.Context(), generic.EmployeeID(claimsFrom(r.Context()).UserID), req.Endpoint); err != nil && !generic.IsNotFound(err) {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Unsubscribed"})
}
