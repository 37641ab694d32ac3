// Package app wires configuration, storage and the HTTP server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AIGateway/internal/catalog"
	"github.com/router-for-me/AIGateway/internal/config"
	"github.com/router-for-me/AIGateway/internal/credential"
	"github.com/router-for-me/AIGateway/internal/db"
	internalhttp "github.com/router-for-me/AIGateway/internal/http"
	"github.com/router-for-me/AIGateway/internal/learning"
	"github.com/router-for-me/AIGateway/internal/lease"
	"github.com/router-for-me/AIGateway/internal/logging"
	"github.com/router-for-me/AIGateway/internal/maintenance"
	"github.com/router-for-me/AIGateway/internal/security"
	"github.com/router-for-me/AIGateway/internal/selector"
	internalsettings "github.com/router-for-me/AIGateway/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// IssueTokenParams holds inputs for token issuance.
type IssueTokenParams struct {
	UserID   uint64
	Username string
	Admin    bool
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// SyncCatalog loads the catalog file into the database and provisions
// instances for every registered credential.
func SyncCatalog(ctx context.Context, cfg config.AppConfig) (int, int, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return 0, 0, err
	}
	conn, err := db.Open(appCfg.Database.DSN)
	if err != nil {
		return 0, 0, err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return 0, 0, errMigrate
	}
	store := catalog.NewStore()
	synced, err := loadCatalog(ctx, conn, store, appCfg.Catalog.Path)
	if err != nil {
		return 0, 0, err
	}
	created, err := credential.NewService(conn, store).SyncAll(ctx)
	if err != nil {
		return synced, 0, err
	}
	return synced, created, nil
}

// IssueToken signs a bearer token with the configured JWT settings.
func IssueToken(cfg config.AppConfig, params IssueTokenParams) (string, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	jwtCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return "", err
	}
	if params.Admin {
		return security.GenerateAdminToken(jwtCfg.Secret, params.UserID, params.Username, jwtCfg.Expiry)
	}
	return security.GenerateToken(jwtCfg.Secret, params.UserID, params.Username, jwtCfg.Expiry)
}

// RunMaintenance runs one maintenance job against the configured database.
func RunMaintenance(ctx context.Context, cfg config.AppConfig, job maintenance.Job) (maintenance.Report, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return maintenance.Report{}, err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return maintenance.Report{}, err
	}
	if errSettings := internalsettings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		return maintenance.Report{}, fmt.Errorf("load settings: %w", errSettings)
	}
	return maintenance.NewScheduler(learning.NewEngine(conn)).RunJob(ctx, job)
}

// RunServer boots the gateway and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if errJWT := appCfg.ValidateJWT(); errJWT != nil {
		return errJWT
	}
	logCloser, err := logging.Setup(appCfg.Logging)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := logCloser.Close(); errClose != nil {
			log.WithError(errClose).Warn("close log file")
		}
	}()

	conn, err := db.Open(appCfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Infof("database ready (dialect=%s)", db.DialectName(conn))
	if errSettings := internalsettings.RefreshDBConfigSnapshot(ctx, conn); errSettings != nil {
		return fmt.Errorf("load settings: %w", errSettings)
	}

	store := catalog.NewStore()
	if _, errCatalog := loadCatalog(ctx, conn, store, appCfg.Catalog.Path); errCatalog != nil {
		return errCatalog
	}
	credentials := credential.NewService(conn, store)
	if created, errProvision := credentials.SyncAll(ctx); errProvision != nil {
		return fmt.Errorf("provision instances: %w", errProvision)
	} else if created > 0 {
		log.Infof("provisioned %d new model instances", created)
	}

	engine := learning.NewEngine(conn)
	modelSelector := selector.New(conn)

	locker, closeLocker, err := newLocker(ctx, appCfg.Redis)
	if err != nil {
		return err
	}
	defer closeLocker()
	scheduler := maintenance.NewScheduler(engine,
		maintenance.WithLocker(locker),
		maintenance.WithLeaseTTL(appCfg.Redis.LeaseTTL),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if appCfg.Maintenance.Enabled {
		scheduler.Start(runCtx)
	} else {
		log.Info("background maintenance disabled")
	}

	if mode := strings.TrimSpace(appCfg.Server.Mode); mode != "" {
		gin.SetMode(mode)
	}
	router := internalhttp.NewRouter(internalhttp.Deps{
		DB:          conn,
		JWT:         appCfg.JWT,
		Catalog:     store,
		CatalogPath: appCfg.Catalog.Path,
		Credentials: credentials,
		Engine:      engine,
		Selector:    modelSelector,
		Scheduler:   scheduler,
	})
	server := &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("starting gateway on %s with config=%s", appCfg.Server.Addr, configPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
		}
		close(serveErr)
	}()

	select {
	case errServe := <-serveErr:
		cancel()
		scheduler.Wait()
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down gateway")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	errShutdown := server.Shutdown(shutdownCtx)
	cancel()
	scheduler.Wait()
	return errShutdown
}

// loadCatalog syncs the catalog file when one is configured, then refreshes
// the store from the database.
func loadCatalog(ctx context.Context, conn *gorm.DB, store *catalog.Store, path string) (int, error) {
	synced := 0
	if path = strings.TrimSpace(path); path != "" {
		defs, errLoad := catalog.LoadFile(path)
		if errLoad != nil {
			return 0, errLoad
		}
		n, errSync := catalog.Sync(ctx, conn, defs)
		if errSync != nil {
			return 0, errSync
		}
		synced = n
		log.Infof("catalog synced from %s: %d models", path, synced)
	}
	if errRefresh := store.Refresh(ctx, conn); errRefresh != nil {
		return synced, errRefresh
	}
	return synced, nil
}

// newLocker returns a Redis-backed locker when an address is configured and
// an in-process one otherwise.
func newLocker(ctx context.Context, cfg config.RedisConfig) (lease.Locker, func(), error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return lease.NewLocalLocker(), func() {}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if errPing := client.Ping(ctx).Err(); errPing != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", addr, errPing)
	}
	log.Infof("maintenance leases use redis at %s", addr)
	return lease.NewRedisLocker(client, cfg.Prefix), func() {
		if errClose := client.Close(); errClose != nil {
			log.WithError(errClose).Warn("close redis client")
		}
	}, nil
}
