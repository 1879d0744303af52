package rules

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchestr/plex-wrapped-sub007/internal/testutil"
)

func newTestAPI(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	t.Cleanup(tdb.Close)

	service := NewService(tdb.Conn, tdb.Logger)
	e := echo.New()
	NewHandlers(service).RegisterRoutes(e.Group("/api/v1/rules"))
	return e, service
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_CreateAndGet(t *testing.T) {
	e, _ := newTestAPI(t)

	body := `{
		"name": "unwatched movies",
		"enabled": true,
		"mediaType": "movie",
		"actionType": "flag_for_review",
		"criteria": {"operator":"AND","children":[{"field":"playCount","op":"equals","value":0}]}
	}`
	rec := doJSON(e, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "unwatched movies", created.Name)
	assert.NotZero(t, created.ID)

	rec = doJSON(e, http.MethodGet, "/api/v1/rules/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_CreateInvalidCriteria(t *testing.T) {
	e, _ := newTestAPI(t)

	// bitrate does not apply to tv_series
	body := `{
		"name": "bad rule",
		"mediaType": "tv_series",
		"actionType": "flag_for_review",
		"criteria": {"field":"bitrate","op":"equals","value":8000}
	}`
	rec := doJSON(e, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Errors []ValidationError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "criteria", resp.Errors[0].Path)
}

func TestHandlers_DuplicateNameConflict(t *testing.T) {
	e, _ := newTestAPI(t)

	body := `{
		"name": "same name",
		"mediaType": "movie",
		"actionType": "flag_for_review",
		"criteria": {"operator":"AND","children":[]}
	}`
	rec := doJSON(e, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/rules", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlers_Validate(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/rules/validate", `{
		"mediaType": "movie",
		"criteria": {"operator":"OR","children":[{"field":"year","op":"between","value":[1990,1999]}]}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Valid  bool              `json:"valid"`
		Errors []ValidationError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)

	// A node that is both group and condition is rejected.
	rec = doJSON(e, http.MethodPost, "/api/v1/rules/validate", `{
		"mediaType": "movie",
		"criteria": {"operator":"OR","field":"year"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	require.NotEmpty(t, resp.Errors)
}

func TestHandlers_NotFound(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodGet, "/api/v1/rules/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
