// Package idp assembles the authorization server: store, signing keys,
// flows and the HTTP API, wired once at process start.
package idp

import (
	"context"
	"fmt"
	"sync"
	"time"

	echoapi "github.com/pilab-dev/shadow-idp/api/echo"
	"github.com/pilab-dev/shadow-idp/cache"
	"github.com/pilab-dev/shadow-idp/config"
	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/internal/auth"
	"github.com/pilab-dev/shadow-idp/internal/crypto"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/services"
	"github.com/pilab-dev/shadow-idp/store"
)

// janitorInterval is how often stale authorization codes are purged.
const janitorInterval = time.Minute

// Provider holds the immutable service handles of a running server.
type Provider struct {
	Config *config.ServerConfig

	Store     *store.Store
	Keys      *services.KeyService
	Clients   *services.ClientService
	Accounts  *services.AccountService
	Consents  *services.ConsentService
	Discovery *services.DiscoveryService
	Minter    *services.TokenMinter
	Authorize *services.AuthorizeFlow
	Token     *services.TokenFlow
	Janitor   *services.CodeJanitor
	Sessions  *cache.SessionStore
	API       *echoapi.OAuth2API

	logger log.Logger
	wg     sync.WaitGroup
}

type options struct {
	clock   domain.Clock
	random  domain.SecureRandom
	keyOpts []services.KeyServiceOption
	store   *store.Store
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

func WithClock(c domain.Clock) Option { return func(o *options) { o.clock = c } }
func WithRandom(r domain.SecureRandom) Option { return func(o *options) { o.random = r } }
func WithStore(s *store.Store) Option { return func(o *options) { o.store = s } }
func WithKeyOptions(opts ...services.KeyServiceOption) Option {
	return func(o *options) { o.keyOpts = append(o.keyOpts, opts...) }
}

// New builds a Provider from cfg. Demo data is seeded when enabled.
func New(cfg *config.ServerConfig, logger log.Logger, opts ...Option) (*Provider, error) {
	o := options{
		clock:  services.SystemClock{},
		random: crypto.Random{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = store.New()
	}

	hasher := auth.NewBcryptPasswordHasher(cfg.BcryptCost)
	if cfg.SeedDemoData {
		if err := store.SeedDemoData(o.store, hasher, cfg.Issuer); err != nil {
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
		logger.Info(context.Background(), "Demo data seeded", map[string]interface{}{"tenant": "default"})
	}

	keys, err := services.NewKeyService(cfg.KeyRotation, cfg.KeyGrace, logger, o.keyOpts...)
	if err != nil {
		return nil, fmt.Errorf("init signing keys: %w", err)
	}

	p := &Provider{
		Config: cfg,
		Store:  o.store,
		Keys:   keys,
		logger: logger,
	}
	p.Clients = services.NewClientService(o.store)
	p.Accounts = services.NewAccountService(o.store, hasher, logger)
	p.Consents = services.NewConsentService(o.store, o.clock)
	p.Discovery = services.NewDiscoveryService(p.Clients, cfg.Issuer)
	p.Minter = services.NewTokenMinter(keys, o.clock, services.MinterConfig{
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		IDTokenLifetime: cfg.IDTokenTTL,
	})
	p.Authorize = services.NewAuthorizeFlow(o.store, p.Clients, o.random, o.clock, cfg.CodeTTL, logger)
	p.Token = services.NewTokenFlow(o.store, p.Clients, p.Minter, o.clock, logger)
	p.Janitor = services.NewCodeJanitor(o.store, o.clock, cfg.CodeRetention, logger)
	p.Sessions = cache.NewSessionStore(cfg.SessionTTL, o.random)
	p.API = echoapi.NewOAuth2API(echoapi.Options{
		Authorize: p.Authorize,
		Token:     p.Token,
		Accounts:  p.Accounts,
		Sessions:  p.Sessions,
		Discovery: p.Discovery,
		Signer:    keys,
		TenantID:  cfg.DefaultTenant,
		Logger:    logger,
	})

	return p, nil
}

// Start launches key rotation and code purging until ctx is done.
func (p *Provider) Start(ctx context.Context) {
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.Keys.Start(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.Janitor.Run(ctx, janitorInterval)
	}()
}

// Close waits for the background loops (their ctx must be done) and stops
// the session cache.
func (p *Provider) Close() {
	p.wg.Wait()
	p.Sessions.Close()
}
