package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"marinaManager/handle"
)

// Config holds the settings shared by every run mode. Flags override the
// MARINA_* environment defaults.
type Config struct {
	Addr        string
	DataDir     string
	AdminToken  string
	StaffToken  string
	TenantToken string
	MongoURI    string
	ElasticURL  string
	SMSURL      string
	LogLevel    string
	LogJSON     bool
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func defaultConfig() Config {
	return Config{
		Addr:        getenv("MARINA_ADDR", "127.0.0.1:7070"),
		DataDir:     getenv("MARINA_DATA_DIR", "data"),
		AdminToken:  getenv("MARINA_ADMIN_TOKEN", ""),
		StaffToken:  getenv("MARINA_STAFF_TOKEN", ""),
		TenantToken: getenv("MARINA_TENANT_TOKEN", ""),
		MongoURI:    getenv("MARINA_MONGO_URI", ""),
		ElasticURL:  getenv("MARINA_ELASTIC_URL", ""),
		SMSURL:      getenv("MARINA_SMS_URL", ""),
		LogLevel:    getenv("MARINA_LOG_LEVEL", "info"),
		LogJSON:     getenv("MARINA_LOG_JSON", "") == "1",
	}
}

func (c Config) dbPath() string {
	return filepath.Join(c.DataDir, "marina.db")
}

func (c Config) tokens() handle.StaticTokens {
	return handle.StaticTokens{
		c.AdminToken:  handle.Admin,
		c.StaffToken:  handle.Staff,
		c.TenantToken: handle.Tenant,
	}
}

func configureLogging(level string, json bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	if json {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
