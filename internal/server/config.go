package server

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Addr string

	// DataDir holds the vault envelope, salt metadata, record database,
	// sync clone and audit trail unless the individual paths override it.
	DataDir   string
	VaultFile string
	SaltFile  string
	AuditFile string
	SyncDir   string

	// RecordsPath is the sqlite database file. When MongoURI is set the
	// record store runs on MongoDB instead.
	RecordsPath string
	MongoURI    string
	MongoDB     string

	TokenTTL   time.Duration
	NetTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:7474"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.VaultFile == "" {
		c.VaultFile = filepath.Join(c.DataDir, "vault.enc")
	}
	if c.SaltFile == "" {
		c.SaltFile = filepath.Join(c.DataDir, "vault.meta")
	}
	if c.AuditFile == "" {
		c.AuditFile = filepath.Join(c.DataDir, "audit.log")
	}
	if c.SyncDir == "" {
		c.SyncDir = filepath.Join(c.DataDir, "sync")
	}
	if c.RecordsPath == "" {
		c.RecordsPath = filepath.Join(c.DataDir, "records.db")
	}
	if c.MongoURI != "" && c.MongoDB == "" {
		c.MongoDB = "zenmius"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
	if c.NetTimeout <= 0 {
		c.NetTimeout = 30 * time.Second
	}
}

// FromEnv builds a Config from ZENMIUS_* environment variables, with
// defaults applied.
func FromEnv() Config {
	c := Config{
		Addr:        os.Getenv("ZENMIUS_ADDR"),
		DataDir:     os.Getenv("ZENMIUS_DATA_DIR"),
		MongoURI:    os.Getenv("ZENMIUS_MONGO_URI"),
		MongoDB:     os.Getenv("ZENMIUS_MONGO_DB"),
		RecordsPath: os.Getenv("ZENMIUS_RECORDS_PATH"),
	}
	if v := os.Getenv("ZENMIUS_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.TokenTTL = d
		}
	}
	if v := os.Getenv("ZENMIUS_NET_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.NetTimeout = d
		}
	}
	c.setDefaults()
	return c
}
