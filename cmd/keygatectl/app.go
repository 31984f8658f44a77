package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/keygate/internal/audit"
	"github.com/MacJediWizard/keygate/internal/billing"
	"github.com/MacJediWizard/keygate/internal/config"
	"github.com/MacJediWizard/keygate/internal/crypto"
	"github.com/MacJediWizard/keygate/internal/db"
	"github.com/MacJediWizard/keygate/internal/httpclient"
	"github.com/MacJediWizard/keygate/internal/jobs"
	"github.com/MacJediWizard/keygate/internal/license"
	"github.com/MacJediWizard/keygate/internal/models"
	"github.com/MacJediWizard/keygate/internal/webhooks"
	"github.com/google/uuid"
)

// Migrator applies and reports schema migrations.
type Migrator interface {
	Migrate(ctx context.Context) (int, error)
	CurrentVersion(ctx context.Context) (int, error)
}

// Store is the persistence surface the CLI reads and writes directly.
type Store interface {
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
	FindOrCreateCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error)
	GetCustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	GetLicenseByKey(ctx context.Context, key uuid.UUID) (*models.License, error)
	ListActivations(ctx context.Context, licenseID uuid.UUID) ([]*models.Activation, error)
	ListWebhookEndpoints(ctx context.Context) ([]*models.WebhookEndpoint, error)
	CreateWebhookEndpoint(ctx context.Context, e *models.WebhookEndpoint) error
}

// Licenses performs audited license operations.
type Licenses interface {
	Issue(ctx context.Context, actor models.Actor, l *models.License) error
	ChangeStatus(ctx context.Context, actor models.Actor, licenseID uuid.UUID, trigger license.Trigger) (*models.License, error)
}

// Encrypter seals secrets for storage.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Auditor records operator actions.
type Auditor interface {
	Record(ctx context.Context, actor models.Actor, action models.AuditAction, resourceType string, resourceID uuid.UUID, result models.AuditResult, details map[string]any)
}

// EventPurger removes processed billing event claims.
type EventPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// app holds the components a command runs against.
type app struct {
	Migrator  Migrator
	Store     Store
	Licenses  Licenses
	Encrypter Encrypter
	Auditor   Auditor
	Events    EventPurger
	// EventRetention is the configured default for events purge.
	EventRetention time.Duration

	closeFn func()
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// opener builds an app from the global options.
type opener func(ctx context.Context, opts *globalOptions) (*app, error)

// openApp connects to the configured database and wires the same services the
// server uses. Webhook deliveries triggered by a command get one immediate
// attempt; retries are picked up by the server.
func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	logger := opts.logger()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if opts.databaseURL != "" {
		cfg.DatabaseURL = opts.databaseURL
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL required: use --db or set DATABASE_URL")
	}

	dbCfg := db.DefaultConfig(cfg.DatabaseURL)
	dbCfg.MaxConns = 5
	dbCfg.MinConns = 1
	database, err := db.New(ctx, dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a := &app{
		Migrator:       database,
		Store:          database,
		Events:         billing.NewLedger(database),
		EventRetention: time.Duration(cfg.EventRetentionDays) * 24 * time.Hour,
		closeFn:        database.Close,
	}

	// Without a key the CLI can still migrate and read; sealing secrets fails.
	var keyManager *crypto.KeyManager
	if cfg.EncryptionKey != "" {
		masterKey, err := crypto.ParseMasterKey(cfg.EncryptionKey)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("decode ENCRYPTION_KEY: %w", err)
		}
		if keyManager, err = crypto.NewKeyManager(masterKey); err != nil {
			database.Close()
			return nil, fmt.Errorf("initialize key manager: %w", err)
		}
		a.Encrypter = keyManager
	} else {
		a.Encrypter = missingKey{}
	}

	client, err := httpclient.New(httpclient.Options{
		Timeout:     cfg.WebhookTimeout,
		ProxyConfig: &cfg.Proxy,
		UserAgent:   "keygate-webhooks/" + Version,
		NoRedirects: true,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("create webhook HTTP client: %w", err)
	}

	dispatcherCfg := webhooks.DefaultConfig()
	dispatcherCfg.MaxAttempts = cfg.WebhookMaxAttempts
	dispatcherCfg.Backoff = cfg.WebhookBackoff
	var decrypter webhooks.Decrypter = missingKey{}
	if keyManager != nil {
		decrypter = keyManager
	}
	dispatcher := webhooks.NewDispatcher(database, decrypter, jobs.NewInline(logger), client, dispatcherCfg, logger)

	recorder := audit.NewRecorder(database, logger)
	pool := license.NewPool(database, license.ParseDevDomainPolicy(cfg.DevDomainPolicy))
	a.Licenses = license.NewService(database, pool, recorder, dispatcher, logger)
	a.Auditor = recorder

	return a, nil
}

// errNoEncryptionKey is returned when a command needs ENCRYPTION_KEY and none is set.
var errNoEncryptionKey = errors.New("ENCRYPTION_KEY is not set")

type missingKey struct{}

func (missingKey) Encrypt([]byte) ([]byte, error) { return nil, errNoEncryptionKey }
func (missingKey) Decrypt([]byte) ([]byte, error) { return nil, errNoEncryptionKey }

func (c *cli) actor() models.Actor {
	return models.Actor{Type: models.ActorOperator, ID: c.opts.operator}
}
