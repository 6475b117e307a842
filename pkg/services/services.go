package services

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/gatekeeper/pkg/alias"
	"github.com/cuemby/gatekeeper/pkg/config"
	"github.com/cuemby/gatekeeper/pkg/crypto"
	"github.com/cuemby/gatekeeper/pkg/events"
	"github.com/cuemby/gatekeeper/pkg/keystore"
	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/master"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/token"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/rs/zerolog"
)

// Well-known service names accepted by Service
const (
	MasterService   = "MasterService"
	KeystoreService = "KeystoreService"
	AliasService    = "AliasService"
	CryptoService   = "CryptoService"
	TokenService    = "TokenService"
	EventService    = "EventService"
)

// State is the lifecycle state of the service set
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateStarted:
		return "STARTED"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrState is returned when a lifecycle call is made in the wrong state
var ErrState = errors.New("invalid lifecycle transition")

// Options configures the service set
type Options struct {
	Config *config.Config
	// MasterOverride replaces the persisted master secret for this process
	MasterOverride []byte
	// Protection overrides the master file protection chosen by the config
	Protection master.ProtectionKey
}

// lifecycle is a service with a running phase
type lifecycle struct {
	name  string
	start func() error
	stop  func() error
}

// Services owns the gateway's secret-management services. It is built once
// at startup and passed to whatever needs a service; there is no global
// registry.
type Services struct {
	cfg    *config.Config
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	registry map[string]any
	running  []lifecycle
	started  []lifecycle

	broker   *events.Broker
	master   *master.Store
	keystore *keystore.Service
	aliases  *alias.Service
	crypto   *crypto.Service
	tokens   *token.Authority
}

// New creates an uninitialized service set
func New(opts Options) *Services {
	return &Services{
		cfg:      opts.Config,
		opts:     opts,
		logger:   log.WithComponent("services"),
		registry: make(map[string]any),
	}
}

// Init constructs every service and wires its dependencies in the order
// master, keystore, alias, crypto, token. Any failure is fatal; nothing is
// registered unless every service was built.
func (s *Services) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return fmt.Errorf("init from %s: %w", s.state, ErrState)
	}
	if s.cfg == nil {
		return errors.New("services: config is required")
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	broker := events.NewBroker()

	masterStore := NewMasterStore(s.cfg, s.opts.Protection, s.opts.MasterOverride, broker)
	if err := masterStore.Init(); err != nil {
		return err
	}

	ks := keystore.NewService(keystore.Options{
		Dir:       s.cfg.KeystoreDir(),
		Master:    masterStore,
		KDF:       KDFParams(s.cfg),
		Watch:     s.cfg.Keystore.Watch,
		KeyBits:   s.cfg.Certificate.KeyBits,
		Validity:  s.cfg.Certificate.Validity,
		Publisher: broker,
	})

	aliases := alias.NewService(ks, broker)

	cryptoSvc := crypto.NewService(crypto.Options{
		Aliases:  aliases,
		Keystore: ks,
	})

	tokens := token.NewAuthority(token.Options{
		Signer:       cryptoSvc,
		SigningAlias: s.cfg.Token.SigningAlias,
		Issuer:       s.cfg.Token.Issuer,
		TTL:          s.cfg.Token.TTL,
	})

	s.broker = broker
	s.master = masterStore
	s.keystore = ks
	s.aliases = aliases
	s.crypto = cryptoSvc
	s.tokens = tokens

	s.registry[EventService] = broker
	s.registry[MasterService] = masterStore
	s.registry[KeystoreService] = ks
	s.registry[AliasService] = aliases
	s.registry[CryptoService] = cryptoSvc
	s.registry[TokenService] = tokens

	// crypto and token are stateless after construction
	s.running = []lifecycle{
		{name: "events", start: func() error { broker.Start(); return nil }, stop: func() error { broker.Stop(); return nil }},
		{name: "master", start: masterStore.Start, stop: masterStore.Stop},
		{name: "keystore", start: ks.Start, stop: ks.Stop},
		{name: "alias", start: func() error { return nil }, stop: func() error { return nil }},
	}

	s.state = StateInitialized
	s.logger.Debug().Str("home", s.cfg.Home).Msg("Services initialized")
	return nil
}

// Start runs the start phase of every service in init order. If one fails,
// the services already started are stopped again and the error is returned.
func (s *Services) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized {
		return fmt.Errorf("start from %s: %w", s.state, ErrState)
	}

	for _, svc := range s.running {
		if err := svc.start(); err != nil {
			metrics.RegisterComponent(svc.name, false, err.Error())
			s.logger.Error().Err(err).Str("service", svc.name).Msg("Service failed to start")
			s.stopStarted()
			s.state = StateStopped
			return err
		}
		s.started = append(s.started, svc)
		metrics.RegisterComponent(svc.name, true, "started")
	}

	s.state = StateStarted
	s.logger.Debug().Msg("Services started")
	return nil
}

// Stop stops the started services in reverse order. Stopping an initialized
// but never started set only moves it to STOPPED.
func (s *Services) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStarted, StateInitialized:
	case StateStopped:
		return nil
	default:
		return fmt.Errorf("stop from %s: %w", s.state, ErrState)
	}

	err := s.stopStarted()
	s.state = StateStopped
	s.logger.Debug().Msg("Services stopped")
	return err
}

// stopStarted stops started services in reverse order, returning the first error
func (s *Services) stopStarted() error {
	var first error
	for i := len(s.started) - 1; i >= 0; i-- {
		svc := s.started[i]
		if err := svc.stop(); err != nil {
			s.logger.Warn().Err(err).Str("service", svc.name).Msg("Service failed to stop")
			if first == nil {
				first = err
			}
		}
		metrics.UpdateComponent(svc.name, false, "stopped")
	}
	s.started = nil
	return first
}

// State returns the current lifecycle state
func (s *Services) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Service returns a registered service by its well-known name. Unknown names,
// and any name before Init, report false.
func (s *Services) Service(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.registry[name]
	return svc, ok
}

// Config returns the configuration the services were built from
func (s *Services) Config() *config.Config {
	return s.cfg
}

// Master returns the master secret store
func (s *Services) Master() *master.Store {
	return s.master
}

// Keystore returns the keystore service
func (s *Services) Keystore() *keystore.Service {
	return s.keystore
}

// Aliases returns the alias service
func (s *Services) Aliases() *alias.Service {
	return s.aliases
}

// Crypto returns the crypto service
func (s *Services) Crypto() *crypto.Service {
	return s.crypto
}

// Tokens returns the token authority
func (s *Services) Tokens() *token.Authority {
	return s.tokens
}

// Events returns the event broker
func (s *Services) Events() *events.Broker {
	return s.broker
}

// NewMasterStore builds the master secret store described by cfg. A nil
// protection selects the one named in the config.
func NewMasterStore(cfg *config.Config, protection master.ProtectionKey, override []byte, publisher events.Publisher) *master.Store {
	if protection == nil {
		protection = Protection(cfg)
	}
	return master.NewStore(master.Options{
		Path:       cfg.MasterFile(),
		Protection: protection,
		KDF:        KDFParams(cfg),
		Override:   override,
		Publisher:  publisher,
	})
}

// Protection returns the master file protection key selected by cfg
func Protection(cfg *config.Config) master.ProtectionKey {
	if cfg.Master.Protection == config.ProtectionKeyring {
		return master.KeyringProtection{Service: cfg.Master.KeyringService}
	}
	return master.HostProtection{Home: cfg.Home}
}

// KDFParams converts the configured argon2id parameters
func KDFParams(cfg *config.Config) security.KDFParams {
	return security.KDFParams{
		Time:      cfg.KDF.Time,
		MemoryKiB: cfg.KDF.MemoryKiB,
		Threads:   cfg.KDF.Threads,
	}
}

// MasterLoaded reports whether the master secret is held in memory
func (s *Services) MasterLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master != nil && s.master.Loaded()
}

// GatewayIdentity describes the gateway identity certificate, if one has
// been created
func (s *Services) GatewayIdentity() (types.CertificateInfo, bool) {
	s.mu.Lock()
	ks := s.keystore
	s.mu.Unlock()

	if ks == nil || !ks.IsGatewayKeystoreAvailable() {
		return types.CertificateInfo{}, false
	}
	cert, err := ks.GatewayCertificate(types.GatewayIdentityAlias)
	if err != nil {
		return types.CertificateInfo{}, false
	}
	return security.GetCertInfo(types.GatewayIdentityAlias, cert), true
}
