package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"marinaManager/elastic"
	"marinaManager/geotag"
	"marinaManager/mongo"
	"marinaManager/utils"
)

var (
	clearDB    bool
	serveMode  bool
	importDir  string
	geotagFile string
)

func main() {
	cfg := defaultConfig()
	flag.BoolVar(&serveMode, "serve", false, "Run HTTP API server and wait for requests")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Directory holding the database and thumbnails")
	flag.StringVar(&importDir, "import", "", "Import every photo under this directory and exit")
	flag.BoolVar(&clearDB, "clear-db", false, "Delete all records and exit")
	flag.StringVar(&geotagFile, "geotag", "", "Print the coordinates embedded in one JPEG and exit")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.Parse()

	utils.CheckError(configureLogging(cfg.LogLevel, cfg.LogJSON))

	if geotagFile != "" {
		if err := printGeotag(os.Stdout, geotagFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	utils.CheckError(ensureDirectory(cfg.DataDir))
	db, err := openAndInitDB(cfg.dbPath())
	utils.CheckError(err)
	defer db.Close()

	if clearDB {
		if err := db.clearDBTables(); err != nil {
			logrus.WithError(err).Error("failed to clear DB")
			return
		}
		fmt.Println("Cleared DB tables: berths, tenants, photos, listings, notices")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mirror, closeMirror := connectMirror(ctx, cfg.MongoURI)
	defer closeMirror()
	importer := NewImporter(ctx, db, cfg.DataDir, mirror)

	if importDir != "" {
		err := importer.Import(ctx, importDir)
		s := importer.Status()
		fmt.Printf("imported %d of %d photos (%d located, %d failed)\n", s.Imported, s.TotalFiles, s.Located, s.Failed)
		if merr, ok := err.(*multierror.Error); ok {
			for _, e := range merr.Errors {
				fmt.Fprintln(os.Stderr, " -", e)
			}
		} else if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return
	}

	if serveMode {
		if cfg.AdminToken == "" {
			logrus.Warn("MARINA_ADMIN_TOKEN is not set; admin routes are unreachable")
		}
		srv := &Server{
			db:       db,
			dataDir:  cfg.DataDir,
			auth:     cfg.tokens(),
			sms:      newSMSGateway(cfg.SMSURL),
			search:   connectSearch(ctx, cfg.ElasticURL),
			importer: importer,
		}
		go utils.Quit("marinaManager", cancel)
		if err := StartServer(ctx, cfg.Addr, srv); err != nil {
			logrus.WithError(err).Error("server error")
		}
		// The database closes only after a running import has stopped.
		cancel()
		importer.Wait()
		return
	}

	flag.Usage()
}

// printGeotag writes "lat,lng" for the JPEG at path, or the reason no
// coordinates were found.
func printGeotag(w io.Writer, path string) error {
	window, err := readWindow(path)
	if err != nil {
		return err
	}
	c, err := geotag.Decode(window)
	if err != nil {
		_, werr := fmt.Fprintf(w, "no coordinates: %v\n", err)
		return werr
	}
	_, err = fmt.Fprintln(w, c.String())
	return err
}

// connectMirror returns nil when uri is empty or the server is unreachable;
// photos are then only stored in sqlite.
func connectMirror(ctx context.Context, uri string) (LocationMirror, func()) {
	noop := func() {}
	if uri == "" {
		return nil, noop
	}
	store, err := mongo.Connect(ctx, uri)
	if err != nil {
		logrus.WithError(err).Warn("location mirror disabled")
		return nil, noop
	}
	return store, func() { _ = store.Close(context.Background()) }
}

// connectSearch returns nil when url is empty or the index cannot be
// prepared; listing search then runs in sqlite.
func connectSearch(ctx context.Context, url string) ListingSearch {
	if url == "" {
		return nil
	}
	ix, err := elastic.Connect(url)
	if err != nil {
		logrus.WithError(err).Warn("listing search index disabled")
		return nil
	}
	if err := ix.EnsureIndex(ctx); err != nil {
		logrus.WithError(err).Warn("listing search index disabled")
		return nil
	}
	return ix
}
