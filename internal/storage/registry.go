package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"receipts/internal/sqlbuilder"

	_ "modernc.org/sqlite"
)

// Credentials identify one database. For MySQL the pool key is
// host_user_database; for SQLite it is the file path.
type Credentials struct {
	Driver   string // mysql or sqlite
	Host     string
	User     string
	Password string
	Database string
	Path     string // sqlite file

	CAFile string
	NoTLS  bool // development mode: plain MySQL connection
}

// Key returns the registry key for c.
func (c Credentials) Key() string {
	if c.Driver == "sqlite" {
		return "sqlite_" + c.Path
	}
	return c.Host + "_" + c.User + "_" + c.Database
}

// Dialect returns the statement dialect matching the driver.
func (c Credentials) Dialect() (sqlbuilder.Dialect, error) {
	return sqlbuilder.ParseDialect(c.Driver)
}

// Registry hands out one connection pool per credential key and keeps it for
// the life of the process. Callers check out a single connection per
// operation with Conn and must Close it when done.
type Registry struct {
	mu     sync.Mutex
	pools  map[string]*sql.DB
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "storage")
	}
	return &Registry{
		pools:  make(map[string]*sql.DB),
		logger: logger,
	}
}

// Acquire returns the pool for creds, opening and pinging it on first use.
func (r *Registry) Acquire(ctx context.Context, creds Credentials) (*sql.DB, error) {
	key := creds.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.pools[key]; ok {
		return db, nil
	}

	db, err := openDB(creds)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", creds.Driver, err)
	}

	r.pools[key] = db
	r.logger.InfoContext(ctx, "Database pool opened", "driver", creds.Driver, "key", key)
	return db, nil
}

// Conn checks out a dedicated connection from the pool for creds. The caller
// owns it until Close.
func (r *Registry) Conn(ctx context.Context, creds Credentials) (*sql.Conn, error) {
	db, err := r.Acquire(ctx, creds)
	if err != nil {
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout %s connection: %w", creds.Driver, err)
	}
	return conn, nil
}

// Len reports how many pools are open.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// Close closes every pool. The registry can be reused afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, db := range r.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
		delete(r.pools, key)
	}
	return errors.Join(errs...)
}

func openDB(creds Credentials) (*sql.DB, error) {
	switch creds.Driver {
	case "sqlite":
		return openSQLite(creds.Path)
	case "mysql":
		return openMySQL(creds)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", creds.Driver)
	}
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; checkouts queue instead of failing busy.
	db.SetMaxOpenConns(1)
	return db, nil
}

func openMySQL(creds Credentials) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = creds.User
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = creds.Host
	if _, _, err := net.SplitHostPort(creds.Host); err != nil {
		cfg.Addr = net.JoinHostPort(creds.Host, "3306")
	}
	cfg.DBName = creds.Database
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	// report matched rows so an edit that changes nothing still counts
	cfg.ClientFoundRows = true

	if !creds.NoTLS {
		tlsCfg, err := loadTLS(creds.CAFile, creds.Host)
		if err != nil {
			return nil, err
		}
		cfg.TLS = tlsCfg
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxIdleConns(4)
	return db, nil
}

func loadTLS(caFile, host string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read mysql CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	serverName := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		serverName = h
	}
	return &tls.Config{RootCAs: pool, ServerName: serverName, MinVersion: tls.VersionTLS12}, nil
}
