package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/hashicorp-forge/wopihost/internal/config"
	"github.com/hashicorp-forge/wopihost/pkg/database"
	"github.com/hashicorp-forge/wopihost/pkg/discovery"
	"github.com/hashicorp-forge/wopihost/pkg/editor"
	"github.com/hashicorp-forge/wopihost/pkg/events"
	"github.com/hashicorp-forge/wopihost/pkg/locks"
	"github.com/hashicorp-forge/wopihost/pkg/proof"
	"github.com/hashicorp-forge/wopihost/pkg/storage/blob"
	"github.com/hashicorp-forge/wopihost/pkg/storage/catalog"
	"github.com/hashicorp-forge/wopihost/pkg/tokens"
)

// New connects to the database and storage backends and builds every
// component named by cfg. Discovery caches are created empty; the caller
// starts their refresh loops.
func New(ctx context.Context, cfg *config.Config, log hclog.Logger) (*Server, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	db, err := ConnectDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	cat, err := OpenCatalog(ctx, cfg, db, log)
	if err != nil {
		return nil, err
	}

	registry, err := NewEditors(cfg, nil, log)
	if err != nil {
		return nil, err
	}

	var tokenStore tokens.Store
	switch cfg.Tokens.Store {
	case config.StoreMemory:
		tokenStore = tokens.NewMemoryStore()
	default:
		tokenStore = tokens.NewDBStore(db)
	}

	var lockStore locks.Store
	switch cfg.Locks.Store {
	case config.StoreMemory:
		lockStore = locks.NewMemoryStore()
	default:
		lockStore = locks.NewDBStore(db)
	}

	var validator *proof.Validator
	if *cfg.Proof.Enabled {
		validator = proof.NewValidator(!*cfg.Proof.CheckTimestamp, log)
	} else {
		log.Warn("proof checks are disabled")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events != nil {
		publisher, err = events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: events.Brokers(cfg.Events.Brokers),
			Topic:   events.Topic(cfg.Events.Topic),
			Logger:  log,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating event publisher: %w", err)
		}
	}

	return &Server{
		Config:  cfg,
		DB:      db,
		Logger:  log,
		Editors: registry,
		Tokens: tokens.NewManager(tokenStore,
			tokens.WithTTL(config.Duration(cfg.Tokens.TTL)),
			tokens.WithLogger(log),
		),
		Locks:      locks.NewCoordinator(lockStore, log),
		Proof:      validator,
		Users:      cat,
		Authorizer: cat,
		Files:      cat,
		Events:     publisher,
	}, nil
}

// Close releases the event publisher and the database connection.
func (s *Server) Close() error {
	if s.Events != nil {
		s.Events.Close()
	}
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ConnectDatabase opens the configured database.
func ConnectDatabase(cfg *config.Config, log hclog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		AutoMigrate:     *cfg.Database.AutoMigrate,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: config.Duration(cfg.Database.ConnMaxLifetime),
		ConnMaxIdleTime: config.Duration(cfg.Database.ConnMaxIdleTime),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return db, nil
}

// OpenCatalog builds the file catalog over the configured blob backend.
func OpenCatalog(ctx context.Context, cfg *config.Config, db *gorm.DB, log hclog.Logger) (*catalog.Catalog, error) {
	var blobs blob.Backend
	switch cfg.Storage.Backend {
	case config.BackendS3:
		s3b, err := blob.NewS3Backend(ctx, *cfg.Storage.S3, log)
		if err != nil {
			return nil, fmt.Errorf("error creating s3 backend: %w", err)
		}
		blobs = s3b
	default:
		local, err := blob.NewLocalBackend(cfg.Storage.Root, log)
		if err != nil {
			return nil, fmt.Errorf("error creating local backend: %w", err)
		}
		blobs = local
	}
	return catalog.New(db, blobs, log), nil
}

// NewEditors builds the editor registry with one discovery cache per
// configured editor. A nil fetcher fetches over HTTP with the configured
// timeout.
func NewEditors(cfg *config.Config, fetcher discovery.Fetcher, log hclog.Logger) (*editor.Registry, error) {
	var editors []*editor.Editor
	for _, ec := range cfg.Editors {
		kind, err := editor.ParseKind(ec.Kind)
		if err != nil {
			return nil, err
		}

		f := fetcher
		if f == nil {
			f = discovery.NewHTTPFetcher(&http.Client{
				Timeout: config.Duration(ec.FetchTimeout),
			})
		}

		cache, err := discovery.NewCache(discovery.Config{
			URL:          ec.DiscoveryURL,
			Fetcher:      f,
			NetZone:      ec.NetZone,
			Denylist:     ec.Denylist,
			InitialDelay: config.Duration(ec.InitialDelay),
			Interval:     config.Duration(ec.RefreshInterval),
			Logger:       log.With("editor", ec.Kind),
		})
		if err != nil {
			return nil, fmt.Errorf("error creating discovery cache for editor %q: %w", ec.Kind, err)
		}

		editors = append(editors, &editor.Editor{
			Kind:      kind,
			Discovery: cache,
			Locale:    ec.Locale,
		})
	}
	return editor.NewRegistry(editors...), nil
}
