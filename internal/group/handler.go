package group

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/resqzone/server/internal/geo"
	"github.com/resqzone/server/pkg/middleware"
	"github.com/resqzone/server/pkg/request"
	"github.com/resqzone/server/pkg/response"
)

// Handler handles HTTP requests for group operations
type Handler struct {
	service *Service
}

// NewHandler creates a new group handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for group endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/local", h.JoinLocal)
	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)

	// Member management
	r.Get("/{id}/members", h.GetMembers)
	r.Delete("/{id}/members/{userId}", h.RemoveMember)
	r.Post("/{id}/leave", h.Leave)
	r.Post("/{id}/owner", h.TransferOwnership)

	return r
}

// JoinLocal handles POST /groups/local
// @Summary      Join or create the local group
// @Description  Enroll the caller in the nearest community group covering the position, creating one when none does
// @Tags         groups
// @Accept       json
// @Produce      json
// @Param        request body JoinLocalRequest true "Current position"
// @Success      200 {object} response.APIResponse{data=JoinResponse}
// @Success      201 {object} response.APIResponse{data=JoinResponse}
// @Failure      400 {object} response.APIResponse
// @Router       /groups/local [post]
func (h *Handler) JoinLocal(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req JoinLocalRequest
	if err := request.Decode(r, &req); err != nil {
		response.FromError(w, err, "Invalid request")
		return
	}

	point := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	result, err := h.service.JoinOrCreateLocalGroup(r.Context(), userID, point, &Address{Street: req.Street, City: req.City})
	if err != nil {
		response.FromError(w, err, "Failed to join local group")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.JSON(w, status, result.ToResponse())
}

// GetByID handles GET /groups/{id}
// @Summary      Get group by ID
// @Description  Get a group with all its members
// @Tags         groups
// @Produce      json
// @Param        id path int true "Group ID"
// @Success      200 {object} response.APIResponse{data=GroupResponse}
// @Failure      404 {object} response.APIResponse
// @Router       /groups/{id} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}

	g, members, err := h.service.GetByIDWithMembers(r.Context(), id)
	if err != nil {
		response.FromError(w, err, "Failed to get group")
		return
	}

	groupResp := g.ToResponse()
	groupResp.Members = make([]*MemberResponse, len(members))
	for i, m := range members {
		groupResp.Members[i] = m.ToResponse()
	}

	response.JSON(w, http.StatusOK, groupResp)
}

// List handles GET /groups
// @Summary      List my groups
// @Description  Get a paginated list of groups for the current user
// @Tags         groups
// @Produce      json
// @Param        page query int false "Page number" default(1)
// @Param        per_page query int false "Items per page" default(20)
// @Success      200 {object} response.APIResponse{data=[]GroupResponse}
// @Router       /groups [get]
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

	groups, total, err := h.service.ListByUserID(r.Context(), userID, page, perPage)
	if err != nil {
		response.FromError(w, err, "Failed to list groups")
		return
	}

	groupResponses := make([]*GroupResponse, len(groups))
	for i, g := range groups {
		groupResponses[i] = g.ToResponse()
	}

	response.JSONWithMeta(w, http.StatusOK, groupResponses, response.NewMeta(page, perPage, total))
}

// GetMembers handles GET /groups/{id}/members
// @Summary      List group members
// @Tags         groups
// @Produce      json
// @Param        id path int true "Group ID"
// @Success      200 {object} response.APIResponse{data=[]MemberResponse}
// @Failure      404 {object} response.APIResponse
// @Router       /groups/{id}/members [get]
func (h *Handler) GetMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}

	members, err := h.service.GetMembers(r.Context(), id)
	if err != nil {
		response.FromError(w, err, "Failed to get members")
		return
	}

	memberResponses := make([]*MemberResponse, len(members))
	for i, m := range members {
		memberResponses[i] = m.ToResponse()
	}

	response.JSON(w, http.StatusOK, memberResponses)
}

// RemoveMember handles DELETE /groups/{id}/members/{userId}
// @Summary      Remove a member
// @Description  Owner only. Owners cannot remove themselves.
// @Tags         groups
// @Produce      json
// @Param        id path int true "Group ID"
// @Param        userId path int true "User ID"
// @Success      200 {object} response.APIResponse{data=RemoveResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /groups/{id}/members/{userId} [delete]
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	targetID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}
	requesterID, _ := middleware.GetUserID(r.Context())

	disbanded, err := h.service.RemoveMember(r.Context(), id, targetID, requesterID)
	if err != nil {
		response.FromError(w, err, "Failed to remove member")
		return
	}

	response.JSON(w, http.StatusOK, &RemoveResponse{Disbanded: disbanded})
}

// Leave handles POST /groups/{id}/leave
// @Summary      Leave a group
// @Description  The last member leaving deletes the group. Owners must transfer ownership while others remain.
// @Tags         groups
// @Produce      json
// @Param        id path int true "Group ID"
// @Success      200 {object} response.APIResponse{data=RemoveResponse}
// @Failure      409 {object} response.APIResponse
// @Router       /groups/{id}/leave [post]
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(r.Context())

	disbanded, err := h.service.Leave(r.Context(), id, userID)
	if err != nil {
		response.FromError(w, err, "Failed to leave group")
		return
	}

	response.JSON(w, http.StatusOK, &RemoveResponse{Disbanded: disbanded})
}

// TransferOwnership handles POST /groups/{id}/owner
// @Summary      Transfer group ownership
// @Tags         groups
// @Accept       json
// @Param        id path int true "Group ID"
// @Param        request body TransferOwnershipRequest true "New owner"
// @Success      204
// @Failure      403 {object} response.APIResponse
// @Router       /groups/{id}/owner [post]
func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	requesterID, _ := middleware.GetUserID(r.Context())

	var req TransferOwnershipRequest
	if err := request.Decode(r, &req); err != nil {
		response.FromError(w, err, "Invalid request")
		return
	}

	if err := h.service.TransferOwnership(r.Context(), id, req.UserID, requesterID); err != nil {
		response.FromError(w, err, "Failed to transfer ownership")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func groupID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid group ID")
		return 0, false
	}
	return id, true
}
