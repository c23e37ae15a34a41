package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-query/internal/complexity"
	"content-query/internal/dbexec"
	"content-query/internal/engine"
	"content-query/internal/middleware"
	"content-query/internal/schema"
	"content-query/internal/security"
)

func testHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg, err := schema.NewRegistry(
		schema.Source{
			Name: "post",
			Fields: []schema.Field{
				{Name: "id"},
				{Name: "title"},
				{Name: "views"},
			},
			Relations: []schema.Relation{
				{Name: "author", Target: "user", Cardinality: schema.One, LocalColumn: "author_id"},
				{Name: "comments", Target: "comment", Cardinality: schema.Many, RemoteColumn: "post_id"},
				{
					Name: "tags", Target: "tag", Cardinality: schema.Many,
					JunctionTable: "post_tags", JunctionLocalColumn: "post_id", JunctionRemoteColumn: "tag_id",
				},
			},
		},
		schema.Source{
			Name: "user",
			Fields: []schema.Field{
				{Name: "id"},
				{Name: "name"},
			},
		},
		schema.Source{
			Name: "comment",
			Fields: []schema.Field{
				{Name: "id"},
				{Name: "body"},
			},
			Relations: []schema.Relation{
				{Name: "author", Target: "user", Cardinality: schema.One, LocalColumn: "author_id"},
			},
		},
		schema.Source{
			Name: "tag",
			Fields: []schema.Field{
				{Name: "id"},
				{Name: "name"},
			},
		},
	)
	require.NoError(t, err)

	eng := engine.New(
		reg,
		security.NewValidator(reg, security.DefaultLimits()),
		complexity.NewAnalyzer(),
		dbexec.NewStandardExecutor(db),
		nil,
		nil,
		nil,
		engine.Config{},
	)
	return NewHandler(eng, nil), mock
}

func serveRequest(h *Handler, r *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	r = r.WithContext(middleware.WithIdentity(r.Context(), middleware.Identity{ActorID: "actor-1"}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPostQuery(t *testing.T) {
	h, mock := testHandler(t)

	mock.ExpectQuery("SELECT .* FROM `posts`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "views", "author_id"}).
			AddRow(1, "hello", 10, nil))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM .posts.`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rec := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"source":"post","page":{"limit":5}}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])

	data, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)

	meta, ok := body["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), meta["total"])

	queryMeta, ok := meta["query"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, queryMeta["cached"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContentBySource(t *testing.T) {
	h, mock := testHandler(t)

	mock.ExpectQuery("SELECT .* FROM `posts` WHERE `views` = \\? ORDER BY `title` DESC, `id` ASC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "views", "author_id"}).
			AddRow(1, "hello", 10, nil))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM .posts.`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rec := serveRequest(h, httptest.NewRequest(http.MethodGet, "/api/content/post?views=10&sort=-title&limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostQueryMalformedBody(t *testing.T) {
	h, _ := testHandler(t)

	rec := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"source":`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestPostQuerySensitiveFieldRejected(t *testing.T) {
	h, mock := testHandler(t)

	rec := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"source":"post","where":{"password":{"eq":"x"}}}`)))

	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])

	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "security", errBody["kind"])
	assert.Contains(t, errBody["message"], "sensitive data")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostQueryComplexityCeilingMapsTo429(t *testing.T) {
	h, _ := testHandler(t)

	// four expansions plus sorting and several filters push the raw
	// complexity score over the ceiling
	payload := `{
		"source": "post",
		"expand": ["author", "comments", "tags", "comments.author"],
		"where": {"views": {"gt": 1, "lt": 100}},
		"sort": ["-title"],
		"aggregate": {"count": true, "sum": ["views"]}
	}`
	rec := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(payload)))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeEnvelope(t, rec)
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "complexity_ceiling", errBody["rule"])
}

func TestAnalyzeDoesNotTouchStore(t *testing.T) {
	h, mock := testHandler(t)

	rec := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/query/analyze",
		strings.NewReader(`{"source":"post","expand":["author","comments"],"sort":["-title"]}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])

	report, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Greater(t, report["complexity"], float64(0))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateReturnsOutcomeWithoutExecuting(t *testing.T) {
	h, mock := testHandler(t)

	rec := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/query/validate",
		strings.NewReader(`{"source":"post"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["valid"])

	rec = serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/query/validate",
		strings.NewReader(`{"source":"secret_table"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeEnvelope(t, rec)
	data = body["data"].(map[string]any)
	assert.Equal(t, false, data["valid"])
	assert.Equal(t, true, body["success"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateCacheRequiresTarget(t *testing.T) {
	h, _ := testHandler(t)

	rec := serveRequest(h, httptest.NewRequest(http.MethodPost, "/api/cache/invalidate",
		strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityDefaultsToAnonymous(t *testing.T) {
	h, mock := testHandler(t)

	mock.ExpectQuery("SELECT .* FROM `posts`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "views", "author_id"}))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM .posts.`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	// no identity in context at all
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"source":"post"}`)).WithContext(context.Background()))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
