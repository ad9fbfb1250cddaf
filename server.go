package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"marinaManager/elastic"
	"marinaManager/geotag"
	"marinaManager/handle"
)

const maxUploadBytes = 32 << 20

type apiError struct {
	Error string `json:"error"`
}

// ListingSearch is the full-text index behind /api/listings/search.
type ListingSearch interface {
	IndexListing(ctx context.Context, l elastic.Listing) error
	Search(ctx context.Context, q string, limit int) ([]int64, error)
}

// Server holds what the HTTP handlers share.
type Server struct {
	db       *DB
	dataDir  string
	auth     handle.Authenticator
	sms      SMSGateway
	search   ListingSearch // nil: substring search in sqlite
	importer *Importer
}

type geotagResp struct {
	Found bool     `json:"found"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

type importReq struct {
	Src string `json:"src"`
}

type importResp struct {
	Started bool   `json:"started"`
	Status  string `json:"status"`
}

type noticeReq struct {
	TenantID int64  `json:"tenantId"`
	Body     string `json:"body"`
}

// Router builds the API with CORS around it.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	handle.InitializeRoutes(r)

	api := r.PathPrefix("/api").Subrouter()
	allow := func(min handle.Role, h http.HandlerFunc) http.Handler {
		return handle.Allow(s.auth, min, h)
	}

	api.Handle("/berths", allow(handle.Staff, s.handleListBerths)).Methods(http.MethodGet)
	api.Handle("/berths", allow(handle.Staff, s.handleCreateBerth)).Methods(http.MethodPost)
	api.Handle("/berths/{id:[0-9]+}", allow(handle.Staff, s.handleGetBerth)).Methods(http.MethodGet)
	api.Handle("/berths/{id:[0-9]+}", allow(handle.Admin, s.handleUpdateBerth)).Methods(http.MethodPut)

	api.Handle("/tenants", allow(handle.Staff, s.handleListTenants)).Methods(http.MethodGet)
	api.Handle("/tenants", allow(handle.Staff, s.handleCreateTenant)).Methods(http.MethodPost)

	api.Handle("/photos", allow(handle.Staff, s.handleListPhotos)).Methods(http.MethodGet)
	api.Handle("/photos", allow(handle.Staff, s.handleUploadPhoto)).Methods(http.MethodPost)
	api.Handle("/geotag", allow(handle.Tenant, s.handleGeotag)).Methods(http.MethodPost)

	api.Handle("/listings", allow(handle.Tenant, s.handleListListings)).Methods(http.MethodGet)
	api.Handle("/listings", allow(handle.Tenant, s.handleCreateListing)).Methods(http.MethodPost)
	api.Handle("/listings/search", allow(handle.Tenant, s.handleSearchListings)).Methods(http.MethodGet)

	api.Handle("/notices", allow(handle.Staff, s.handleListNotices)).Methods(http.MethodGet)
	api.Handle("/notices", allow(handle.Admin, s.handleSendNotice)).Methods(http.MethodPost)

	api.Handle("/import", allow(handle.Admin, s.handleImport)).Methods(http.MethodPost)
	api.Handle("/import/status", allow(handle.Staff, s.handleImportStatus)).Methods(http.MethodGet)

	// Serve thumbnails
	api.Handle("/thumbnails/{path:.*}", allow(handle.Staff, s.handleThumbnail)).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "Accept", "Authorization"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}),
	)
	return cors(r)
}

// StartServer serves the API on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logrus.WithField("addr", addr).Info("serving HTTP API")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

//------------------------//
// Berths                 //
//------------------------//

func (s *Server) handleListBerths(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePage(r)
	rows, err := s.db.listBerths(offset, limit)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateBerth(w http.ResponseWriter, r *http.Request) {
	var b Berth
	if !readJSON(w, r, &b) {
		return
	}
	if strings.TrimSpace(b.Code) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "code is required"})
		return
	}
	if b.LengthM < 0 || b.WidthM < 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "dimensions must not be negative"})
		return
	}
	id, err := s.db.insertBerth(b)
	if err != nil {
		if isUniqueViolation(err) {
			writeJSON(w, http.StatusConflict, apiError{Error: "berth code already exists"})
			return
		}
		s.internal(w, r, err)
		return
	}
	s.respondBerth(w, r, id, http.StatusCreated)
}

func (s *Server) handleGetBerth(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.respondBerth(w, r, id, http.StatusOK)
}

func (s *Server) handleUpdateBerth(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var b Berth
	if !readJSON(w, r, &b) {
		return
	}
	if b.Status == "" {
		b.Status = "free"
	}
	b.ID = id
	if err := s.db.updateBerth(b); err != nil {
		if err == sql.ErrNoRows {
			writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
			return
		}
		s.internal(w, r, err)
		return
	}
	s.respondBerth(w, r, id, http.StatusOK)
}

func (s *Server) respondBerth(w http.ResponseWriter, r *http.Request, id int64, status int) {
	b, err := s.db.getBerth(id)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	if b == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
		return
	}
	writeJSON(w, status, b)
}

//------------------------//
// Tenants                //
//------------------------//

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePage(r)
	rows, err := s.db.listTenants(offset, limit)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var t Tenant
	if !readJSON(w, r, &t) {
		return
	}
	if strings.TrimSpace(t.Name) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "name is required"})
		return
	}
	if t.BerthID != nil {
		b, err := s.db.getBerth(*t.BerthID)
		if err != nil {
			s.internal(w, r, err)
			return
		}
		if b == nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "unknown berth"})
			return
		}
	}
	id, err := s.db.insertTenant(t)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	created, err := s.db.getTenant(id)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

//------------------------//
// Photos                 //
//------------------------//

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePage(r)
	rows, err := s.db.listPhotos(offset, limit)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart body"})
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "file is required"})
		return
	}
	defer file.Close()

	var berth *Berth
	if code := strings.TrimSpace(r.FormValue("berth")); code != "" {
		if berth, err = s.db.getBerthByCode(code); err != nil {
			s.internal(w, r, err)
			return
		}
		if berth == nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "unknown berth"})
			return
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "could not read file"})
		return
	}
	photo, err := s.importer.Ingest(r.Context(), filepath.Base(hdr.Filename), data, berth)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

// handleGeotag reports the coordinates embedded in the posted image bytes.
// Only the leading window is read.
func (s *Server) handleGeotag(w http.ResponseWriter, r *http.Request) {
	window, err := io.ReadAll(io.LimitReader(r.Body, geotag.WindowSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "could not read body"})
		return
	}
	c, err := geotag.Extract(window)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	if c == nil {
		writeJSON(w, http.StatusOK, geotagResp{Found: false})
		return
	}
	writeJSON(w, http.StatusOK, geotagResp{Found: true, Lat: &c.Lat, Lng: &c.Lng})
}

//------------------------//
// Listings               //
//------------------------//

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePage(r)
	rows, err := s.db.listListings(offset, limit)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var l Listing
	if !readJSON(w, r, &l) {
		return
	}
	if strings.TrimSpace(l.Title) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "title is required"})
		return
	}
	if l.PriceCents < 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "price must not be negative"})
		return
	}
	id, err := s.db.insertListing(l)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	created, err := s.db.getListing(id)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	if s.search != nil {
		doc := elastic.Listing{
			ID:          created.ID,
			Title:       created.Title,
			Description: created.Description,
			Status:      created.Status,
			PriceCents:  created.PriceCents,
		}
		if err := s.search.IndexListing(r.Context(), doc); err != nil {
			logrus.WithError(err).WithField("listing", id).Warn("listing not indexed")
		}
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSearchListings(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "q is required"})
		return
	}
	_, limit := parsePage(r)

	if s.search != nil {
		ids, err := s.search.Search(r.Context(), q, int(limit))
		if err == nil {
			rows, err := s.db.getListingsByIDs(ids)
			if err != nil {
				s.internal(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, rows)
			return
		}
		logrus.WithError(err).Warn("search index unavailable, falling back to sqlite")
	}
	rows, err := s.db.searchListingsLike(q, limit)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

//------------------------//
// Notices                //
//------------------------//

func (s *Server) handleListNotices(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePage(r)
	rows, err := s.db.listNotices(offset, limit)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSendNotice(w http.ResponseWriter, r *http.Request) {
	var req noticeReq
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "body is required"})
		return
	}
	tenant, err := s.db.getTenant(req.TenantID)
	if err != nil {
		s.internal(w, r, err)
		return
	}
	if tenant == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "tenant not found"})
		return
	}
	n, err := sendNotice(r.Context(), s.db, s.sms, tenant, req.Body)
	if err != nil {
		if errors.Is(err, errNoPhone) {
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: err.Error()})
			return
		}
		s.internal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

//------------------------//
// Import                 //
//------------------------//

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importReq
	if !readJSON(w, r, &req) {
		return
	}
	if req.Src == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "src is required"})
		return
	}
	if fi, err := os.Stat(req.Src); err != nil || !fi.IsDir() {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "src is not a directory"})
		return
	}
	// Start import in background (returns immediately)
	if err := s.importer.Start(req.Src); err != nil {
		writeJSON(w, http.StatusConflict, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, importResp{Started: true, Status: "started"})
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.importer.Status())
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	thumbPath := mux.Vars(r)["path"]
	if thumbPath == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "thumbnail path required"})
		return
	}

	// Security: ensure the path is within the thumbnails directory
	absThumbDir, err := filepath.Abs(filepath.Join(s.dataDir, thumbnailDir))
	if err != nil {
		s.internal(w, r, err)
		return
	}
	absThumbPath, err := filepath.Abs(filepath.Join(s.dataDir, filepath.FromSlash(thumbPath)))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid thumbnail path"})
		return
	}
	if !strings.HasPrefix(absThumbPath, absThumbDir+string(filepath.Separator)) {
		writeJSON(w, http.StatusForbidden, apiError{Error: "access denied"})
		return
	}
	if _, err := os.Stat(absThumbPath); os.IsNotExist(err) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "thumbnail not found"})
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
	http.ServeFile(w, r, absThumbPath)
}

//------------------------//
// Helpers                //
//------------------------//

func (s *Server) internal(w http.ResponseWriter, r *http.Request, err error) {
	logrus.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Error("request failed")
	writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error"})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return false
	}
	return true
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func parsePage(r *http.Request) (int64, int64) {
	q := r.URL.Query()
	var (
		offset int64 = 0
		limit  int64 = 50
	)
	if s := q.Get("offset"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v >= 0 {
			offset = v
		}
	}
	if s := q.Get("limit"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	return offset, limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
