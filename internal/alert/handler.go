package alert

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/resqzone/server/internal/apperror"
	"github.com/resqzone/server/pkg/middleware"
	"github.com/resqzone/server/pkg/request"
	"github.com/resqzone/server/pkg/response"
)

// Handler handles HTTP requests for alert operations
type Handler struct {
	service *Service
}

// NewHandler creates a new alert handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for alert endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/unread-count", h.UnreadCount)
	r.Post("/{id}/read", h.MarkRead)
	r.Delete("/{id}", h.Delete)

	// Officer only
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleOfficer))
		r.Post("/emergency", h.SendEmergency)
		r.Post("/directed", h.SendDirected)
		r.Post("/broadcasts/{id}/deactivate", h.Deactivate)
		r.Get("/broadcasts/{id}/stats", h.Stats)
	})

	return r
}

// SendEmergency handles POST /alerts/emergency
// @Summary      Send an emergency alert
// @Description  Record a broadcast and deliver it to every user within the radius. A 201 with error code PARTIAL_FAILURE means the broadcast was recorded but some recipients were not.
// @Tags         alerts
// @Accept       json
// @Produce      json
// @Param        request body EmergencyAlertRequest true "Emergency alert"
// @Success      201 {object} response.APIResponse{data=FanoutResult}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Router       /alerts/emergency [post]
func (h *Handler) SendEmergency(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req EmergencyAlertRequest
	if err := request.Decode(r, &req); err != nil {
		response.FromError(w, err, "Invalid request")
		return
	}

	result, err := h.service.SendEmergencyAlert(r.Context(), req.ToInput(userID))
	h.writeFanout(w, result, err, "Failed to send emergency alert")
}

// SendDirected handles POST /alerts/directed
// @Summary      Send an alert to specific users
// @Tags         alerts
// @Accept       json
// @Produce      json
// @Param        request body DirectedAlertRequest true "Directed alert"
// @Success      201 {object} response.APIResponse{data=FanoutResult}
// @Failure      400 {object} response.APIResponse
// @Router       /alerts/directed [post]
func (h *Handler) SendDirected(w http.ResponseWriter, r *http.Request) {
	var req DirectedAlertRequest
	if err := request.Decode(r, &req); err != nil {
		response.FromError(w, err, "Invalid request")
		return
	}

	result, err := h.service.SendDirectedAlert(r.Context(), req.ToInput())
	h.writeFanout(w, result, err, "Failed to send alert")
}

func (h *Handler) writeFanout(w http.ResponseWriter, result *FanoutResult, err error, fallback string) {
	if err != nil && !errors.Is(err, apperror.ErrPartialFailure) {
		response.FromError(w, err, fallback)
		return
	}
	response.Partial(w, http.StatusCreated, result, err)
}

// List handles GET /alerts
// @Summary      List my alerts
// @Description  Paginated deliveries plus active broadcasts covering the caller's position
// @Tags         alerts
// @Produce      json
// @Param        page query int false "Page number" default(1)
// @Param        per_page query int false "Items per page" default(20)
// @Success      200 {object} response.APIResponse{data=InboxResponse}
// @Router       /alerts [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	deliveries, broadcasts, total, err := h.service.ListForUser(r.Context(), userID, page, perPage)
	if err != nil {
		response.FromError(w, err, "Failed to list alerts")
		return
	}

	inbox := &InboxResponse{
		Alerts:     make([]*DeliveryResponse, len(deliveries)),
		Broadcasts: make([]*BroadcastResponse, len(broadcasts)),
	}
	for i, d := range deliveries {
		inbox.Alerts[i] = d.ToResponse()
	}
	for i, b := range broadcasts {
		inbox.Broadcasts[i] = b.ToResponse()
	}

	response.JSONWithMeta(w, http.StatusOK, inbox, response.NewMeta(page, perPage, total))
}

// UnreadCount handles GET /alerts/unread-count
// @Summary      Count unread alerts
// @Tags         alerts
// @Produce      json
// @Success      200 {object} response.APIResponse{data=UnreadCount}
// @Router       /alerts/unread-count [get]
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	count, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		response.FromError(w, err, "Failed to count alerts")
		return
	}
	response.JSON(w, http.StatusOK, count)
}

// MarkRead handles POST /alerts/{id}/read
// @Summary      Mark an alert as read
// @Description  type=system marks a broadcast, anything else marks one of the caller's deliveries
// @Tags         alerts
// @Param        id path int true "Alert or broadcast ID"
// @Param        type query string false "system or user" default(user)
// @Success      204
// @Failure      404 {object} response.APIResponse
// @Router       /alerts/{id}/read [post]
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid alert ID")
		return
	}
	userID, _ := middleware.GetUserID(r.Context())

	kind := ReadKind(r.URL.Query().Get("type"))
	if err := h.service.MarkRead(r.Context(), id, kind, userID); err != nil {
		response.FromError(w, err, "Failed to mark alert read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /alerts/{id}
// @Summary      Delete one of my alerts
// @Tags         alerts
// @Param        id path int true "Alert ID"
// @Success      204
// @Failure      404 {object} response.APIResponse
// @Router       /alerts/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid alert ID")
		return
	}
	userID, _ := middleware.GetUserID(r.Context())

	if err := h.service.DeleteDelivery(r.Context(), id, userID); err != nil {
		response.FromError(w, err, "Failed to delete alert")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deactivate handles POST /alerts/broadcasts/{id}/deactivate
// @Summary      Deactivate a broadcast
// @Tags         alerts
// @Param        id path int true "Broadcast ID"
// @Success      204
// @Failure      404 {object} response.APIResponse
// @Router       /alerts/broadcasts/{id}/deactivate [post]
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid broadcast ID")
		return
	}

	if err := h.service.Deactivate(r.Context(), id); err != nil {
		response.FromError(w, err, "Failed to deactivate broadcast")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /alerts/broadcasts/{id}/stats
// @Summary      Delivery stats for a broadcast
// @Tags         alerts
// @Produce      json
// @Param        id path int true "Broadcast ID"
// @Success      200 {object} response.APIResponse{data=BroadcastStats}
// @Failure      404 {object} response.APIResponse
// @Router       /alerts/broadcasts/{id}/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid broadcast ID")
		return
	}

	stats, err := h.service.GetBroadcastStats(r.Context(), id)
	if err != nil {
		response.FromError(w, err, "Failed to get broadcast stats")
		return
	}
	response.JSON(w, http.StatusOK, stats)
}
