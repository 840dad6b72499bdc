package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", NewHandler(f.svc, nil).Mount)
	return r
}

func serve(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHandler_Get(t *testing.T) {
	t.Parallel()
	h := newRouter(newFixture(t))

	rec, body := serve(t, h, "/api/v1/films/"+filmStarWars)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Star Wars", body["title"])
	assert.Equal(t, filmStarWars, body["uuid"])
}

func TestHandler_Get_NotFound(t *testing.T) {
	t.Parallel()
	h := newRouter(newFixture(t))

	tests := []struct {
		path   string
		detail string
	}{
		{"/api/v1/films/" + missingID, "Film not found"},
		{"/api/v1/films/not-a-uuid", "Film not found"},
		{"/api/v1/genres/" + missingID, "Genre not found"},
		{"/api/v1/persons/" + missingID, "Person not found"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, body := serve(t, h, tt.path)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, tt.detail, body["detail"])
		})
	}
}

func TestHandler_Get_StoreDown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.docs.Fail(sserr.New(sserr.CodeInternalDatabase, "index down"))
	h := newRouter(f)

	rec, body := serve(t, h, "/api/v1/films/"+filmAlien)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Service Unavailable", body["detail"])
}

func TestHandler_Search(t *testing.T) {
	t.Parallel()
	h := newRouter(newFixture(t))

	rec, body := serve(t, h, "/api/v1/films/search?query=star&page_number=1&page_size=5")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 5, body["page_size"])
	assert.Len(t, body["items"], 2)
}

func TestHandler_Search_Defaults(t *testing.T) {
	t.Parallel()
	h := newRouter(newFixture(t))

	for _, path := range []string{"/api/v1/films/search", "/api/v1/films", "/api/v1/films/"} {
		rec, body := serve(t, h, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.EqualValues(t, 3, body["total"], path)
		assert.EqualValues(t, 1, body["page_number"], path)
		assert.EqualValues(t, 10, body["page_size"], path)
	}
}

func TestHandler_Search_InvalidParams(t *testing.T) {
	t.Parallel()
	h := newRouter(newFixture(t))

	tests := []struct {
		query  string
		detail string
	}{
		{"page_size=0", "page_size must be >= 1"},
		{"page_size=101", "page_size must be <= 100"},
		{"page_number=0", "page_number must be >= 1"},
		{"page_number=abc", "page_number must be an integer"},
		{"page_size=1.5", "page_size must be an integer"},
		{"page_number=101&page_size=100", "page_number * page_size must be <= 10000"},
		{"page_number=4611686018427387905&page_size=4", "page_number * page_size must be <= 10000"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec, body := serve(t, h, "/api/v1/genres/search?"+tt.query)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.detail, body["detail"])
		})
	}
}

func TestHandler_Search_StoreDown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.docs.Fail(sserr.New(sserr.CodeTimeoutDatabase, "deadline"))
	h := newRouter(f)

	rec, _ := serve(t, h, "/api/v1/persons/search?query=x")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseQuery(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest(http.MethodGet, "/?query=dune&page_number=3&page_size=20", nil)

	q, detail := parseQuery(r)

	assert.Empty(t, detail)
	assert.Equal(t, Query{Text: "dune", PageNumber: 3, PageSize: 20}, q)
}
