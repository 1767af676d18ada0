package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqzone/server/internal/geo"
	"github.com/resqzone/server/pkg/middleware"
	"github.com/resqzone/server/pkg/response"
)

func newTestRouter(store *fakeStore, users fakeUsers) http.Handler {
	svc, _ := newTestService(store, users, Options{})
	return middleware.TestUserMiddleware(NewHandler(svc).Routes())
}

func doRequest(h http.Handler, method, path, body, userID, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Test-User-ID", userID)
	req.Header.Set("X-Test-User-Role", role)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEmergencyRequiresOfficer(t *testing.T) {
	h := newTestRouter(newFakeStore(), fakeUsers{1: &london})
	body := `{"title":"Fire","message":"Evacuate","latitude":51.5074,"longitude":-0.1278,"radius_km":2}`

	rec := doRequest(h, http.MethodPost, "/emergency", body, "7", "resident")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(h, http.MethodPost, "/emergency", body, "7", "officer")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success bool         `json:"success"`
		Data    FanoutResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.DeliveredCount)
}

func TestEmergencyReportsPartialFailure(t *testing.T) {
	store := newFakeStore()
	store.failDelivery[2] = -1
	h := newTestRouter(store, fakeUsers{1: &london, 2: &london})
	body := `{"title":"Fire","message":"Evacuate","latitude":51.5074,"longitude":-0.1278,"radius_km":2}`

	rec := doRequest(h, http.MethodPost, "/emergency", body, "7", "officer")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PARTIAL_FAILURE", resp.Error.Code)
}

func TestEmergencyRejectsBadInput(t *testing.T) {
	h := newTestRouter(newFakeStore(), fakeUsers{})

	rec := doRequest(h, http.MethodPost, "/emergency", `{"title":"Fire","message":"x","latitude":91,"longitude":0,"radius_km":2}`, "7", "officer")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_COORDINATE")

	rec = doRequest(h, http.MethodPost, "/emergency", `{"title":"Fire","message":"x","latitude":1,"longitude":0,"radius_km":0}`, "7", "officer")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(h, http.MethodPost, "/emergency", `{"title":"Fire","message":"x","longitude":0,"radius_km":1}`, "7", "officer")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkReadEndpoint(t *testing.T) {
	store := newFakeStore()
	here := geo.Point{Latitude: 10, Longitude: 10}
	h := newTestRouter(store, fakeUsers{4: &here})

	rec := doRequest(h, http.MethodPost, "/emergency", `{"title":"Quake","message":"Drop","latitude":10,"longitude":10,"radius_km":1}`, "9", "officer")
	require.Equal(t, http.StatusCreated, rec.Code)
	d := store.deliveryFor(4)
	require.NotNil(t, d)

	path := "/" + jsonNumber(d.ID) + "/read"
	assert.Equal(t, http.StatusNoContent, doRequest(h, http.MethodPost, path, "", "4", "resident").Code)
	assert.Equal(t, http.StatusNoContent, doRequest(h, http.MethodPost, path, "", "4", "resident").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(h, http.MethodPost, path, "", "5", "resident").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(h, http.MethodPost, "/999/read?type=system", "", "4", "resident").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(h, http.MethodPost, "/abc/read", "", "4", "resident").Code)

	rec = doRequest(h, http.MethodGet, "/unread-count", "", "4", "resident")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
