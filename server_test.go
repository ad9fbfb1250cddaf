package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marinaManager/elastic"
	"marinaManager/handle"
)

const (
	adminToken  = "admin-secret"
	staffToken  = "staff-secret"
	tenantToken = "tenant-secret"
)

type testServer struct {
	*Server
	handler http.Handler
	sms     *fakeSMS
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := newTestDB(t)
	dataDir := t.TempDir()
	sms := &fakeSMS{}
	s := &Server{
		db:      db,
		dataDir: dataDir,
		auth: handle.StaticTokens{
			adminToken:  handle.Admin,
			staffToken:  handle.Staff,
			tenantToken: handle.Tenant,
		},
		sms:      sms,
		importer: NewImporter(context.Background(), db, dataDir, nil),
	}
	return &testServer{Server: s, handler: s.Router(), sms: sms}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) json(t *testing.T, method, path, token string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return ts.do(t, method, path, token, body, "application/json")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBerthRoutes(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.json(t, http.MethodGet, "/api/berths", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.json(t, http.MethodGet, "/api/berths", tenantToken, nil).Code)

	rec := ts.json(t, http.MethodPost, "/api/berths", staffToken, map[string]interface{}{"code": "a1", "pier": "A", "lengthM": 10})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b Berth
	decode(t, rec, &b)
	assert.Equal(t, "A1", b.Code)

	assert.Equal(t, http.StatusConflict, ts.json(t, http.MethodPost, "/api/berths", staffToken, map[string]string{"code": "A1"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodPost, "/api/berths", staffToken, map[string]string{"pier": "A"}).Code)

	path := "/api/berths/" + strconv.FormatInt(b.ID, 10)
	rec = ts.json(t, http.MethodGet, path, staffToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	update := map[string]interface{}{"pier": "B", "lengthM": 11, "status": "occupied"}
	assert.Equal(t, http.StatusForbidden, ts.json(t, http.MethodPut, path, staffToken, update).Code)
	rec = ts.json(t, http.MethodPut, path, adminToken, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &b)
	assert.Equal(t, "occupied", b.Status)
	assert.Equal(t, "B", b.Pier)

	assert.Equal(t, http.StatusNotFound, ts.json(t, http.MethodGet, "/api/berths/999", staffToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.json(t, http.MethodPut, "/api/berths/999", adminToken, update).Code)

	var list []Berth
	decode(t, ts.json(t, http.MethodGet, "/api/berths", staffToken, nil), &list)
	assert.Len(t, list, 1)
}

func TestTenantRoutes(t *testing.T) {
	ts := newTestServer(t)
	berth := mustBerth(t, ts.db, "A1")

	rec := ts.json(t, http.MethodPost, "/api/tenants", staffToken, map[string]interface{}{"name": "Ada", "phone": "+46", "berthId": berth.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodPost, "/api/tenants", staffToken, map[string]interface{}{"name": "Bo", "berthId": 999}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodPost, "/api/tenants", staffToken, map[string]interface{}{"phone": "1"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/tenants", staffToken, strings.NewReader("{"), "application/json").Code)

	var list []Tenant
	decode(t, ts.json(t, http.MethodGet, "/api/tenants", staffToken, nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Ada", list[0].Name)
}

func TestGeotagRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/geotag", tenantToken, bytes.NewReader(photoJPEG(t, scenarioA())), "image/jpeg")
	require.Equal(t, http.StatusOK, rec.Code)
	var got geotagResp
	decode(t, rec, &got)
	require.True(t, got.Found)
	assert.InDelta(t, scenarioALat, *got.Lat, 1e-6)
	assert.InDelta(t, scenarioALng, *got.Lng, 1e-6)

	for name, body := range map[string][]byte{
		"no exif": photoJPEG(t, nil),
		"png":     []byte("\x89PNG\r\n\x1a\n"),
		"empty":   {},
	} {
		rec := ts.do(t, http.MethodPost, "/api/geotag", tenantToken, bytes.NewReader(body), "application/octet-stream")
		require.Equal(t, http.StatusOK, rec.Code, name)
		assert.JSONEq(t, `{"found":false}`, rec.Body.String(), name)
	}

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/api/geotag", "", nil, "").Code)
}

func multipartPhoto(t *testing.T, name string, data []byte, berth string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if berth != "" {
		require.NoError(t, mw.WriteField("berth", berth))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestPhotoUpload(t *testing.T) {
	ts := newTestServer(t)
	berth := mustBerth(t, ts.db, "D4")

	body, ct := multipartPhoto(t, "deck.jpg", photoJPEG(t, scenarioA()), "d4")
	rec := ts.do(t, http.MethodPost, "/api/photos", staffToken, body, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var photo PhotoRow
	decode(t, rec, &photo)
	assert.True(t, photo.HasLocation)
	require.NotNil(t, photo.BerthID)
	assert.Equal(t, berth.ID, *photo.BerthID)

	located, err := ts.db.getBerth(berth.ID)
	require.NoError(t, err)
	require.NotNil(t, located.Lat)
	assert.InDelta(t, scenarioALat, *located.Lat, 1e-6)

	// Thumbnail of the upload is served to staff.
	require.NotEmpty(t, photo.ThumbnailPath)
	rec = ts.do(t, http.MethodGet, "/api/thumbnails/"+photo.ThumbnailPath, staffToken, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/thumbnails/.thumbnails/none.jpg", staffToken, nil, "").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/thumbnails/test.db", staffToken, nil, "").Code)

	var list []PhotoRow
	decode(t, ts.json(t, http.MethodGet, "/api/photos", staffToken, nil), &list)
	assert.Len(t, list, 1)

	body, ct = multipartPhoto(t, "x.jpg", photoJPEG(t, nil), "ZZ9")
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/photos", staffToken, body, ct).Code)

	body, ct = multipartPhoto(t, "", nil, "")
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/photos", staffToken, body, ct).Code)

	body, ct = multipartPhoto(t, "x.jpg", photoJPEG(t, nil), "")
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/api/photos", tenantToken, body, ct).Code)
}

type fakeSearch struct {
	indexed []elastic.Listing
	ids     []int64
	err     error
}

func (f *fakeSearch) IndexListing(_ context.Context, l elastic.Listing) error {
	f.indexed = append(f.indexed, l)
	return nil
}

func (f *fakeSearch) Search(context.Context, string, int) ([]int64, error) {
	return f.ids, f.err
}

func TestListingRoutes(t *testing.T) {
	ts := newTestServer(t)

	for _, title := range []string{"Dinghy", "Life jackets", "Anchor"} {
		rec := ts.json(t, http.MethodPost, "/api/listings", tenantToken, map[string]interface{}{"title": title, "priceCents": 1500})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodPost, "/api/listings", tenantToken, map[string]interface{}{"title": "x", "priceCents": -1}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodPost, "/api/listings", tenantToken, map[string]interface{}{"title": " "}).Code)

	var list []Listing
	decode(t, ts.json(t, http.MethodGet, "/api/listings", tenantToken, nil), &list)
	require.Len(t, list, 3)
	assert.Equal(t, "Anchor", list[0].Title)

	// sqlite substring search
	var found []Listing
	decode(t, ts.json(t, http.MethodGet, "/api/listings/search?q=jack", tenantToken, nil), &found)
	require.Len(t, found, 1)
	assert.Equal(t, "Life jackets", found[0].Title)
	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodGet, "/api/listings/search", tenantToken, nil).Code)

	// index ranking wins when configured
	search := &fakeSearch{ids: []int64{list[0].ID, list[2].ID}}
	ts.search = search
	decode(t, ts.json(t, http.MethodGet, "/api/listings/search?q=boat", tenantToken, nil), &found)
	require.Len(t, found, 2)
	assert.Equal(t, "Anchor", found[0].Title)
	assert.Equal(t, "Dinghy", found[1].Title)

	rec := ts.json(t, http.MethodPost, "/api/listings", tenantToken, map[string]interface{}{"title": "Oars"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, search.indexed, 1)
	assert.Equal(t, "Oars", search.indexed[0].Title)
	assert.Equal(t, "active", search.indexed[0].Status)

	// index failure falls back to sqlite
	search.err = assert.AnError
	decode(t, ts.json(t, http.MethodGet, "/api/listings/search?q=oars", tenantToken, nil), &found)
	require.Len(t, found, 1)
	assert.Equal(t, "Oars", found[0].Title)
}

func TestNoticeRoutes(t *testing.T) {
	ts := newTestServer(t)
	tid, err := ts.db.insertTenant(Tenant{Name: "Ada", Phone: "+4670"})
	require.NoError(t, err)
	silent, err := ts.db.insertTenant(Tenant{Name: "Bo"})
	require.NoError(t, err)

	req := map[string]interface{}{"tenantId": tid, "body": "Pier A closed tomorrow"}
	assert.Equal(t, http.StatusForbidden, ts.json(t, http.MethodPost, "/api/notices", staffToken, req).Code)

	rec := ts.json(t, http.MethodPost, "/api/notices", adminToken, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var n Notice
	decode(t, rec, &n)
	assert.Equal(t, "sent", n.Status)
	assert.Equal(t, []string{"+4670: Pier A closed tomorrow"}, ts.sms.sent)

	assert.Equal(t, http.StatusNotFound, ts.json(t, http.MethodPost, "/api/notices", adminToken, map[string]interface{}{"tenantId": 999, "body": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodPost, "/api/notices", adminToken, map[string]interface{}{"tenantId": tid}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, ts.json(t, http.MethodPost, "/api/notices", adminToken, map[string]interface{}{"tenantId": silent, "body": "x"}).Code)

	var list []Notice
	decode(t, ts.json(t, http.MethodGet, "/api/notices", staffToken, nil), &list)
	assert.Len(t, list, 1)
}

func TestImportRoutes(t *testing.T) {
	ts := newTestServer(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "one.jpg"), photoJPEG(t, scenarioA()), 0o644))

	assert.Equal(t, http.StatusForbidden, ts.json(t, http.MethodPost, "/api/import", staffToken, importReq{Src: src}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodPost, "/api/import", adminToken, importReq{}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.json(t, http.MethodPost, "/api/import", adminToken, importReq{Src: filepath.Join(src, "nope")}).Code)

	rec := ts.json(t, http.MethodPost, "/api/import", adminToken, importReq{Src: src})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var status ScanStatus
	require.Eventually(t, func() bool {
		decode(t, ts.json(t, http.MethodGet, "/api/import/status", staffToken, nil), &status)
		return status.Status == "completed"
	}, 5*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 1, status.Imported)
	assert.EqualValues(t, 1, status.Located)
}
