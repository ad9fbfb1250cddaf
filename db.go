package main

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"marinaManager/geotag"
)

// DB wraps sql.DB to add custom methods
type DB struct {
	*sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS berths (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	pier TEXT NOT NULL DEFAULT '',
	length_m REAL NOT NULL DEFAULT 0,
	width_m REAL NOT NULL DEFAULT 0,
	lat REAL,
	lng REAL,
	status TEXT NOT NULL DEFAULT 'free',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tenants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	berth_id INTEGER REFERENCES berths(id) ON DELETE SET NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS photos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	berth_id INTEGER REFERENCES berths(id) ON DELETE SET NULL,
	name TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	lat REAL,
	lng REAL,
	has_location INTEGER NOT NULL DEFAULT 0,
	metadata JSON NOT NULL DEFAULT '{}',
	thumbnail_path TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS listings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price_cents INTEGER NOT NULL DEFAULT 0,
	seller_tenant_id INTEGER REFERENCES tenants(id) ON DELETE SET NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS notices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	phone TEXT NOT NULL,
	body TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	error TEXT,
	created_at TEXT NOT NULL,
	sent_at TEXT
);`

func openAndInitDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// SQLite works best with single connection
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	// Best-effort lookup indexes
	_, _ = sqlDB.Exec(`CREATE INDEX IF NOT EXISTS idx_photos_berth ON photos(berth_id)`)
	_, _ = sqlDB.Exec(`CREATE INDEX IF NOT EXISTS idx_tenants_berth ON tenants(berth_id)`)
	return &DB{sqlDB}, nil
}

func (db *DB) clearDBTables() error {
	for _, table := range []string{"notices", "listings", "photos", "tenants", "berths"} {
		if _, err := db.Exec(`DELETE FROM ` + table); err != nil {
			return errors.Wrapf(err, "clear %s", table)
		}
	}
	return nil
}

// withBusyRetry runs fn again when SQLite reports the database as locked.
func withBusyRetry(fn func() error) error {
	maxRetries := 3
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if errStr := err.Error(); !strings.Contains(errStr, "database is locked") && !strings.Contains(errStr, "SQLITE_BUSY") {
			return err
		}
		// Wait before retry (linear backoff)
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

//------------------------//
// Berths                 //
//------------------------//

type Berth struct {
	ID        int64    `json:"id"`
	Code      string   `json:"code"`
	Pier      string   `json:"pier"`
	LengthM   float64  `json:"lengthM"`
	WidthM    float64  `json:"widthM"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

const berthColumns = `id, code, pier, length_m, width_m, lat, lng, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBerth(row rowScanner) (*Berth, error) {
	var b Berth
	var lat, lng sql.NullFloat64
	if err := row.Scan(&b.ID, &b.Code, &b.Pier, &b.LengthM, &b.WidthM, &lat, &lng, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Lat, b.Lng = floatPtr(lat), floatPtr(lng)
	return &b, nil
}

func (db *DB) insertBerth(b Berth) (int64, error) {
	if b.Status == "" {
		b.Status = "free"
	}
	ts := now()
	res, err := db.Exec(`INSERT INTO berths (code, pier, length_m, width_m, lat, lng, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(strings.TrimSpace(b.Code)), b.Pier, b.LengthM, b.WidthM, nullFloat(b.Lat), nullFloat(b.Lng), b.Status, ts, ts)
	if err != nil {
		return 0, errors.Wrapf(err, "insert berth %q", b.Code)
	}
	return res.LastInsertId()
}

func (db *DB) listBerths(offset, limit int64) ([]Berth, error) {
	rows, err := db.Query(`SELECT `+berthColumns+` FROM berths ORDER BY code LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Berth{}
	for rows.Next() {
		b, err := scanBerth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// getBerth returns nil, nil when no berth has that id.
func (db *DB) getBerth(id int64) (*Berth, error) {
	b, err := scanBerth(db.QueryRow(`SELECT `+berthColumns+` FROM berths WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (db *DB) getBerthByCode(code string) (*Berth, error) {
	b, err := scanBerth(db.QueryRow(`SELECT `+berthColumns+` FROM berths WHERE code = ?`, strings.ToUpper(code)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (db *DB) updateBerth(b Berth) error {
	res, err := db.Exec(`UPDATE berths SET pier = ?, length_m = ?, width_m = ?, status = ?, updated_at = ? WHERE id = ?`,
		b.Pier, b.LengthM, b.WidthM, b.Status, now(), b.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// locateBerth moves berth id to c. sql.ErrNoRows when the berth is missing.
func locateBerth(q querier, id int64, c geotag.Coordinates) error {
	res, err := q.Exec(`UPDATE berths SET lat = ?, lng = ?, updated_at = ? WHERE id = ?`, c.Lat, c.Lng, now(), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

//------------------------//
// Tenants                //
//------------------------//

type Tenant struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	BerthID   *int64 `json:"berthId,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func (db *DB) insertTenant(t Tenant) (int64, error) {
	res, err := db.Exec(`INSERT INTO tenants (name, phone, email, berth_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		strings.TrimSpace(t.Name), strings.TrimSpace(t.Phone), strings.TrimSpace(t.Email), nullInt(t.BerthID), now())
	if err != nil {
		return 0, errors.Wrapf(err, "insert tenant %q", t.Name)
	}
	return res.LastInsertId()
}

func (db *DB) listTenants(offset, limit int64) ([]Tenant, error) {
	rows, err := db.Query(`SELECT id, name, phone, email, berth_id, created_at FROM tenants ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Tenant{}
	for rows.Next() {
		var t Tenant
		var berth sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Name, &t.Phone, &t.Email, &berth, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.BerthID = intPtr(berth)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) getTenant(id int64) (*Tenant, error) {
	var t Tenant
	var berth sql.NullInt64
	err := db.QueryRow(`SELECT id, name, phone, email, berth_id, created_at FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Phone, &t.Email, &berth, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.BerthID = intPtr(berth)
	return &t, nil
}

//------------------------//
// Photos                 //
//------------------------//

type PhotoRow struct {
	ID            int64    `json:"id"`
	BerthID       *int64   `json:"berthId,omitempty"`
	Name          string   `json:"name"`
	Hash          string   `json:"hash"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
	HasLocation   bool     `json:"hasLocation"`
	Metadata      string   `json:"metadata"`
	ThumbnailPath string   `json:"thumbnailPath,omitempty"`
	CreatedAt     string   `json:"createdAt"`
}

// setLocation copies c into the row; nil clears it.
func (p *PhotoRow) setLocation(c *geotag.Coordinates) {
	if c == nil {
		p.Lat, p.Lng, p.HasLocation = nil, nil, false
		return
	}
	lat, lng := c.Lat, c.Lng
	p.Lat, p.Lng, p.HasLocation = &lat, &lng, true
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// storePhoto upserts p keyed by its content hash and returns the row id.
// When p is located and attached to a berth, the berth is moved to the
// photo's coordinates in the same transaction.
func (db *DB) storePhoto(p PhotoRow) (int64, error) {
	var id int64
	err := withBusyRetry(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if id, err = writePhoto(tx, p); err != nil {
			return err
		}
		if p.BerthID != nil && p.HasLocation && p.Lat != nil && p.Lng != nil {
			c := geotag.Coordinates{Lat: *p.Lat, Lng: *p.Lng}
			if err := locateBerth(tx, *p.BerthID, c); err != nil {
				return errors.Wrapf(err, "locate berth %d", *p.BerthID)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, errors.Wrapf(err, "store photo %s", p.Name)
	}
	return id, nil
}

func writePhoto(q querier, p PhotoRow) (int64, error) {
	if p.Metadata == "" {
		p.Metadata = "{}"
	}
	_, err := q.Exec(`INSERT INTO photos (berth_id, name, hash, lat, lng, has_location, metadata, thumbnail_path, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET
  berth_id=COALESCE(excluded.berth_id, photos.berth_id),
  name=excluded.name,
  lat=excluded.lat,
  lng=excluded.lng,
  has_location=excluded.has_location,
  metadata=excluded.metadata,
  thumbnail_path=excluded.thumbnail_path`,
		nullInt(p.BerthID), p.Name, p.Hash, nullFloat(p.Lat), nullFloat(p.Lng), p.HasLocation, p.Metadata, p.ThumbnailPath, now())
	if err != nil {
		return 0, err
	}
	// Return the id of the (now) current row for this hash
	var id int64
	if err := q.QueryRow(`SELECT id FROM photos WHERE hash = ?`, p.Hash).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (db *DB) listPhotos(offset, limit int64) ([]PhotoRow, error) {
	rows, err := db.Query(`SELECT id, berth_id, name, hash, lat, lng, has_location, metadata, thumbnail_path, created_at FROM photos ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PhotoRow{}
	for rows.Next() {
		var p PhotoRow
		var berth sql.NullInt64
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&p.ID, &berth, &p.Name, &p.Hash, &lat, &lng, &p.HasLocation, &p.Metadata, &p.ThumbnailPath, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.BerthID, p.Lat, p.Lng = intPtr(berth), floatPtr(lat), floatPtr(lng)
		out = append(out, p)
	}
	return out, rows.Err()
}

//------------------------//
// Listings               //
//------------------------//

type Listing struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	PriceCents     int64  `json:"priceCents"`
	SellerTenantID *int64 `json:"sellerTenantId,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
}

const listingColumns = `id, title, description, price_cents, seller_tenant_id, status, created_at`

func (db *DB) insertListing(l Listing) (int64, error) {
	if l.Status == "" {
		l.Status = "active"
	}
	res, err := db.Exec(`INSERT INTO listings (title, description, price_cents, seller_tenant_id, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(l.Title), l.Description, l.PriceCents, nullInt(l.SellerTenantID), l.Status, now())
	if err != nil {
		return 0, errors.Wrapf(err, "insert listing %q", l.Title)
	}
	return res.LastInsertId()
}

func (db *DB) queryListings(query string, args ...interface{}) ([]Listing, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Listing{}
	for rows.Next() {
		var l Listing
		var seller sql.NullInt64
		if err := rows.Scan(&l.ID, &l.Title, &l.Description, &l.PriceCents, &seller, &l.Status, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.SellerTenantID = intPtr(seller)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (db *DB) listListings(offset, limit int64) ([]Listing, error) {
	return db.queryListings(`SELECT `+listingColumns+` FROM listings ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
}

func (db *DB) getListing(id int64) (*Listing, error) {
	ls, err := db.queryListings(`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	if err != nil || len(ls) == 0 {
		return nil, err
	}
	return &ls[0], nil
}

// getListingsByIDs keeps the order of ids, which is the search ranking.
func (db *DB) getListingsByIDs(ids []int64) ([]Listing, error) {
	if len(ids) == 0 {
		return []Listing{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	found, err := db.queryListings(`SELECT `+listingColumns+` FROM listings WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Listing, len(found))
	for _, l := range found {
		byID[l.ID] = l
	}
	out := make([]Listing, 0, len(found))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// searchListingsLike is the substring search used when no search index is
// configured.
func (db *DB) searchListingsLike(q string, limit int64) ([]Listing, error) {
	pattern := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q) + "%"
	return db.queryListings(`SELECT `+listingColumns+` FROM listings
WHERE status = 'active' AND (title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')
ORDER BY id DESC LIMIT ?`, pattern, pattern, limit)
}

//------------------------//
// Notices                //
//------------------------//

type Notice struct {
	ID        int64  `json:"id"`
	TenantID  int64  `json:"tenantId"`
	Phone     string `json:"phone"`
	Body      string `json:"body"`
	Status    string `json:"status"` // queued, sent, failed
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"createdAt"`
	SentAt    string `json:"sentAt,omitempty"`
}

func (db *DB) insertNotice(n Notice) (int64, error) {
	res, err := db.Exec(`INSERT INTO notices (tenant_id, phone, body, status, created_at) VALUES (?, ?, ?, 'queued', ?)`,
		n.TenantID, n.Phone, n.Body, now())
	if err != nil {
		return 0, errors.Wrap(err, "insert notice")
	}
	return res.LastInsertId()
}

// markNotice records the delivery outcome of a notice.
func (db *DB) markNotice(id int64, sendErr error) error {
	return withBusyRetry(func() error {
		var err error
		if sendErr == nil {
			_, err = db.Exec(`UPDATE notices SET status='sent', error=NULL, sent_at=? WHERE id=?`, now(), id)
		} else {
			_, err = db.Exec(`UPDATE notices SET status='failed', error=? WHERE id=?`, sendErr.Error(), id)
		}
		return err
	})
}

func (db *DB) listNotices(offset, limit int64) ([]Notice, error) {
	rows, err := db.Query(`SELECT id, tenant_id, phone, body, status, IFNULL(error,''), created_at, IFNULL(sent_at,'') FROM notices ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Notice{}
	for rows.Next() {
		var n Notice
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Phone, &n.Body, &n.Status, &n.Error, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
