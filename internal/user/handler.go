package user

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/resqzone/server/internal/geo"
	"github.com/resqzone/server/internal/group"
	"github.com/resqzone/server/pkg/middleware"
	"github.com/resqzone/server/pkg/request"
	"github.com/resqzone/server/pkg/response"
)

// Handler handles HTTP requests for user operations
type Handler struct {
	service *Service
}

// NewHandler creates a new user handler with service dependency injected
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for user endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/me", h.Me)
	r.Put("/me", h.UpdateMe)
	r.Put("/me/location", h.UpdateLocation)
	r.Get("/{id}", h.GetByID)
	r.Delete("/{id}", h.Delete)

	return r
}

// Create handles POST /users
// @Summary      Create a new user
// @Description  Create a new user. Only officers may create volunteer or officer accounts.
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body CreateUserRequest true "User creation request"
// @Success      201 {object} response.APIResponse{data=UserResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /users [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := request.Decode(r, &req); err != nil {
		response.FromError(w, err, "Invalid request")
		return
	}

	if req.Role != "" && req.Role != RoleResident {
		if role, _ := middleware.GetRole(r.Context()); role != middleware.RoleOfficer {
			response.Forbidden(w, "Only officers can assign this role")
			return
		}
	}

	u, err := h.service.Create(r.Context(), &req)
	if err != nil {
		response.FromError(w, err, "Failed to create user")
		return
	}

	response.JSON(w, http.StatusCreated, u.ToResponse())
}

// GetByID handles GET /users/{id}
// @Summary      Get user by ID
// @Description  Get a single user by their ID
// @Tags         users
// @Produce      json
// @Param        id path int true "User ID"
// @Success      200 {object} response.APIResponse{data=UserResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /users/{id} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	u, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		response.FromError(w, err, "Failed to get user")
		return
	}

	response.JSON(w, http.StatusOK, u.ToResponse())
}

// Me handles GET /users/me
// @Summary      Get the current user
// @Tags         users
// @Produce      json
// @Success      200 {object} response.APIResponse{data=UserResponse}
// @Router       /users/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	u, err := h.service.GetByID(r.Context(), userID)
	if err != nil {
		response.FromError(w, err, "Failed to get user")
		return
	}

	response.JSON(w, http.StatusOK, u.ToResponse())
}

// List handles GET /users
// @Summary      List all users
// @Description  Get a paginated list of users
// @Tags         users
// @Produce      json
// @Param        page query int false "Page number" default(1)
// @Param        per_page query int false "Items per page" default(20)
// @Success      200 {object} response.APIResponse{data=[]UserResponse}
// @Router       /users [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	users, total, err := h.service.List(r.Context(), page, perPage)
	if err != nil {
		response.FromError(w, err, "Failed to list users")
		return
	}

	userResponses := make([]*UserResponse, len(users))
	for i, u := range users {
		userResponses[i] = u.ToResponse()
	}

	response.JSONWithMeta(w, http.StatusOK, userResponses, response.NewMeta(page, perPage, total))
}

// UpdateMe handles PUT /users/me
// @Summary      Update the current user
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body UpdateUserRequest true "User update request"
// @Success      200 {object} response.APIResponse{data=UserResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /users/me [put]
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req UpdateUserRequest
	if err := request.Decode(r, &req); err != nil {
		response.FromError(w, err, "Invalid request")
		return
	}

	u, err := h.service.Update(r.Context(), userID, &req)
	if err != nil {
		response.FromError(w, err, "Failed to update user")
		return
	}

	response.JSON(w, http.StatusOK, u.ToResponse())
}

// UpdateLocation handles PUT /users/me/location
// @Summary      Update my location
// @Description  Store the caller's position and enroll them in the local community group
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body UpdateLocationRequest true "Current position"
// @Success      200 {object} response.APIResponse{data=LocationResponse}
// @Failure      400 {object} response.APIResponse
// @Router       /users/me/location [put]
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req UpdateLocationRequest
	if err := request.Decode(r, &req); err != nil {
		response.FromError(w, err, "Invalid request")
		return
	}

	point := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	u, joined, err := h.service.UpdateLocation(r.Context(), userID, point, &group.Address{Street: req.Street, City: req.City})
	if err != nil {
		response.FromError(w, err, "Failed to update location")
		return
	}

	response.JSON(w, http.StatusOK, &LocationResponse{
		User:       u.ToResponse(),
		LocalGroup: joined.ToResponse(),
	})
}

// Delete handles DELETE /users/{id}
// @Summary      Delete a user
// @Description  Users may delete themselves; officers may delete anyone
// @Tags         users
// @Param        id path int true "User ID"
// @Success      204
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /users/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return
	}

	callerID, _ := middleware.GetUserID(r.Context())
	role, _ := middleware.GetRole(r.Context())
	if callerID != id && role != middleware.RoleOfficer {
		response.Forbidden(w, "Cannot delete another user")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		response.FromError(w, err, "Failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
