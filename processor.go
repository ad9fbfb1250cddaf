package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"marinaManager/geotag"
	"marinaManager/mongo"
)

var errImportRunning = errors.New("an import is already running")

// LocationMirror receives the coordinates of every located photo.
type LocationMirror interface {
	UpsertLocation(ctx context.Context, loc mongo.Location) error
}

type ScanStatus struct {
	Status      string    `json:"status"`      // idle, scanning, completed, error
	TotalFiles  int64     `json:"totalFiles"`  // Image files found
	Processed   int64     `json:"processed"`   // Files processed
	Imported    int64     `json:"imported"`    // Photos stored
	Located     int64     `json:"located"`     // Photos with coordinates
	Failed      int64     `json:"failed"`      // Files that failed
	StartTime   time.Time `json:"startTime"`   // When the import started
	EndTime     time.Time `json:"endTime"`     // When the import ended
	CurrentFile string    `json:"currentFile"` // Last file processed
	Error       string    `json:"error"`       // Failure summary
}

// importTracker guards the status of the running (or last) import.
type importTracker struct {
	mu     sync.Mutex
	status ScanStatus
}

func newImportTracker() *importTracker {
	return &importTracker{status: ScanStatus{Status: "idle"}}
}

func (t *importTracker) Snapshot() ScanStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// begin resets the status; false when an import is already running.
func (t *importTracker) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Status == "scanning" {
		return false
	}
	t.status = ScanStatus{Status: "scanning", StartTime: time.Now()}
	return true
}

func (t *importTracker) found() {
	t.mu.Lock()
	t.status.TotalFiles++
	t.mu.Unlock()
}

func (t *importTracker) record(res importResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Processed++
	t.status.CurrentFile = filepath.Base(res.path)
	switch {
	case res.err != nil:
		t.status.Failed++
	case res.photo != nil:
		t.status.Imported++
		if res.photo.HasLocation {
			t.status.Located++
		}
	}
}

func (t *importTracker) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.EndTime = time.Now()
	t.status.CurrentFile = ""
	if err != nil {
		t.status.Status = "error"
		t.status.Error = err.Error()
		return
	}
	t.status.Status = "completed"
}

type importResult struct {
	path  string
	photo *PhotoRow
	err   error
}

// Importer stores berth photos: content hash, coordinates, camera metadata
// and thumbnail.
type Importer struct {
	ctx     context.Context
	db      *DB
	dataDir string
	mirror  LocationMirror
	workers int
	status  *importTracker
	running sync.WaitGroup
	log     *logrus.Entry
}

// NewImporter returns an importer whose background runs stop when ctx is
// cancelled.
func NewImporter(ctx context.Context, db *DB, dataDir string, mirror LocationMirror) *Importer {
	return &Importer{
		ctx:     ctx,
		db:      db,
		dataDir: dataDir,
		mirror:  mirror,
		workers: 4,
		status:  newImportTracker(),
		log:     logrus.WithField("component", "import"),
	}
}

func (im *Importer) Status() ScanStatus {
	return im.status.Snapshot()
}

// Start runs Import in the background under the importer's context.
func (im *Importer) Start(src string) error {
	if !im.status.begin() {
		return errImportRunning
	}
	im.running.Add(1)
	go func() {
		defer im.running.Done()
		if err := im.run(im.ctx, src); err != nil {
			im.log.WithError(err).Warn("import finished with failures")
		}
	}()
	return nil
}

// Wait blocks until background imports have returned.
func (im *Importer) Wait() {
	im.running.Wait()
}

// Import walks src and stores every image found. A file that cannot be read
// or stored is skipped; all such failures are returned together.
func (im *Importer) Import(ctx context.Context, src string) error {
	if !im.status.begin() {
		return errImportRunning
	}
	return im.run(ctx, src)
}

func (im *Importer) run(ctx context.Context, src string) (err error) {
	defer func() { im.status.finish(err) }()

	log := im.log.WithField("src", src)
	log.Info("import started")

	paths := make(chan string, 128)
	results := make(chan importResult, 128)
	walkErr := make(chan error, 1)

	go func() {
		defer close(paths)
		walkErr <- filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == thumbnailDir {
					return filepath.SkipDir
				}
				return nil
			}
			if !isImageFile(path) {
				return nil
			}
			im.status.found()
			select {
			case paths <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	var wg sync.WaitGroup
	for i := 0; i < im.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				if ctx.Err() != nil {
					// drain
					continue
				}
				photo, err := im.importFile(ctx, path)
				results <- importResult{path: path, photo: photo, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var failures *multierror.Error
	for res := range results {
		im.status.record(res)
		if res.err != nil {
			log.WithError(res.err).WithField("file", res.path).Warn("photo skipped")
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", res.path, res.err))
		}
	}
	if werr := <-walkErr; werr != nil {
		failures = multierror.Append(failures, errors.Wrap(werr, "walk source directory"))
	}

	s := im.status.Snapshot()
	log.WithFields(logrus.Fields{
		"processed": s.Processed,
		"imported":  s.Imported,
		"located":   s.Located,
		"failed":    s.Failed,
	}).Info("import done")
	return failures.ErrorOrNil()
}

func (im *Importer) importFile(ctx context.Context, path string) (*PhotoRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return im.Ingest(ctx, filepath.Base(path), data, nil)
}

// Ingest stores one photo. When berth is nil the berth is looked up from
// the code the file name starts with; a located photo moves its berth to
// the photo's coordinates.
func (im *Importer) Ingest(ctx context.Context, name string, data []byte, berth *Berth) (*PhotoRow, error) {
	hash := contentHash(data)
	log := im.log.WithFields(logrus.Fields{"photo": name, "hash": hash[:12]})

	window := leadingWindow(data)
	var coords *geotag.Coordinates
	if c, err := geotag.Decode(window); err != nil {
		log.WithError(err).Debug("no coordinates")
	} else {
		coords = &c
	}

	row := PhotoRow{
		Name:     name,
		Hash:     hash,
		Metadata: BuildMetadataJSON(window, coords),
	}
	row.setLocation(coords)

	thumb, err := processThumbnail(bytes.NewReader(data), im.dataDir, hash)
	if err != nil {
		// A photo without a thumbnail is still stored
		log.WithError(err).Warn("thumbnail generation failed")
	}
	row.ThumbnailPath = thumb

	if berth == nil {
		if code := berthCodeFromName(name); code != "" {
			if berth, err = im.db.getBerthByCode(code); err != nil {
				return nil, errors.Wrapf(err, "look up berth %s", code)
			}
		}
	}
	if berth != nil {
		id := berth.ID
		row.BerthID = &id
	}

	if row.ID, err = im.db.storePhoto(row); err != nil {
		return nil, err
	}
	if berth != nil && coords != nil {
		log.WithFields(logrus.Fields{"berth": berth.Code, "location": coords.String()}).Info("berth located")
	}

	if coords != nil && im.mirror != nil {
		loc := mongo.Location{
			PhotoHash: hash,
			Lat:       coords.Lat,
			Lng:       coords.Lng,
			UpdatedAt: time.Now().UTC(),
		}
		if berth != nil {
			loc.BerthCode = berth.Code
		}
		if err := im.mirror.UpsertLocation(ctx, loc); err != nil {
			// sqlite holds the location; the mirror catches up on re-import
			log.WithError(err).Warn("location mirror failed")
		}
	}
	return &row, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// leadingWindow returns the prefix of data the extractor looks at.
func leadingWindow(data []byte) []byte {
	if len(data) > geotag.WindowSize {
		return data[:geotag.WindowSize]
	}
	return data
}

// readWindow reads at most geotag.WindowSize bytes from the start of path.
func readWindow(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, geotag.WindowSize))
}

// ensureDirectory creates a directory if it doesn't exist
func ensureDirectory(dirPath string) error {
	if err := os.MkdirAll(dirPath, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}
	return nil
}
