package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/gatekeeper/pkg/events"
	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/storage"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// GatewayKeystoreFile is the file name of the gateway keystore
	GatewayKeystoreFile = "gateway.db"

	// credentialStoreSuffix is appended to the cluster name to form its file name
	credentialStoreSuffix = "-credentials.db"

	// gatewayKeystoreName is recorded in the gateway keystore header
	gatewayKeystoreName = "gateway"
)

// MasterSecret gives temporary access to the master secret
type MasterSecret interface {
	WithSecret(fn func(secret []byte) error) error
}

// Options configures the keystore service
type Options struct {
	// Dir holds the gateway keystore and every credential store
	Dir string
	// Master supplies the secret every container key is derived from
	Master MasterSecret
	// KDF parameters for containers created by this service
	KDF security.KDFParams
	// Watch reloads cached containers changed by another process
	Watch bool
	// Certificate settings for AddSelfSignedCertificate
	KeyBits  int
	Validity time.Duration
	// Publisher receives keystore events
	Publisher events.Publisher
}

// Service owns the gateway keystore and the per-cluster credential stores.
// Each container file has its own slot in the arena with its own lock, so a
// write to one cluster never blocks reads of another.
type Service struct {
	dir       string
	master    MasterSecret
	kdf       security.KDFParams
	watch     bool
	keyBits   int
	validity  time.Duration
	publisher events.Publisher
	logger    zerolog.Logger

	mu      sync.Mutex
	slots   map[string]*slot
	watcher *Watcher
}

// NewService creates a keystore service. No file is touched until the first
// operation.
func NewService(opts Options) *Service {
	s := &Service{
		dir:       opts.Dir,
		master:    opts.Master,
		kdf:       opts.KDF,
		watch:     opts.Watch,
		keyBits:   opts.KeyBits,
		validity:  opts.Validity,
		publisher: opts.Publisher,
		logger:    log.WithComponent("keystore"),
		slots:     make(map[string]*slot),
	}
	if s.publisher == nil {
		s.publisher = events.Discard{}
	}
	if s.keyBits == 0 {
		s.keyBits = security.DefaultIdentityKeyBits
	}
	if s.validity == 0 {
		s.validity = security.DefaultIdentityValidity
	}
	return s
}

// Dir returns the keystore directory
func (s *Service) Dir() string {
	return s.dir
}

// Start prepares the keystore directory, unlocks the containers the gateway
// itself depends on and starts the file watcher if enabled. A master secret
// that cannot unlock an existing container fails here rather than on the
// first request.
func (s *Service) Start() error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return &types.Error{Kind: types.KindPersistence, Op: "start keystore", Err: err}
	}

	if s.IsGatewayKeystoreAvailable() {
		if err := s.gatewaySlot().view(s, func(*slot) error { return nil }); err != nil {
			return err
		}
	}
	if s.IsCredentialStoreAvailable(types.GatewayCluster) {
		if _, err := s.CredentialStore(types.GatewayCluster); err != nil {
			return err
		}
	}

	if s.watch {
		w, err := NewWatcher(s)
		if err != nil {
			return &types.Error{Kind: types.KindKeystore, Op: "start keystore", Err: err}
		}
		w.Start()
		s.mu.Lock()
		s.watcher = w
		s.mu.Unlock()
	}

	s.logger.Info().Str("dir", s.dir).Bool("watch", s.watch).Msg("Keystore service started")
	return nil
}

// Stop stops the watcher and drops every cached container key
func (s *Service) Stop() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	slots := s.slots
	s.slots = make(map[string]*slot)
	s.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	for _, sl := range slots {
		sl.invalidate()
	}
	metrics.CredentialStoresLoaded.Set(0)
	return nil
}

// IsCredentialStoreAvailable reports whether the cluster's credential store
// exists. It does not unlock it.
func (s *Service) IsCredentialStoreAvailable(cluster string) bool {
	cluster = types.ResolveCluster(cluster)
	if types.ValidateClusterName(cluster) != nil {
		return false
	}
	return s.credentialSlot(cluster).container.Exists()
}

// CreateCredentialStore creates an empty credential store for the cluster.
// It fails with KindKeystore wrapping types.ErrExists if one already exists.
func (s *Service) CreateCredentialStore(cluster string) error {
	cluster = types.ResolveCluster(cluster)
	if err := types.ValidateClusterName(cluster); err != nil {
		return err
	}

	sl := s.credentialSlot(cluster)
	if err := sl.create(s); err != nil {
		return err
	}

	metrics.CredentialStoresCreated.Inc()
	clusterLog := log.WithCluster("keystore", cluster)
	clusterLog.Info().Str("path", sl.container.Path()).Msg("Credential store created")
	s.publisher.Publish(&events.Event{
		Type:    events.EventCredentialStoreCreated,
		Cluster: cluster,
		Message: fmt.Sprintf("credential store created for cluster %s", cluster),
	})
	return nil
}

// CredentialStore returns the unlocked credential store of a cluster. It fails
// with KindCredentialStoreNotFound when the store does not exist and with
// KindKeystoreUnlock when the master secret does not open it.
func (s *Service) CredentialStore(cluster string) (*CredentialStore, error) {
	cluster = types.ResolveCluster(cluster)
	if err := types.ValidateClusterName(cluster); err != nil {
		return nil, err
	}

	sl := s.credentialSlot(cluster)
	if err := sl.view(s, func(*slot) error { return nil }); err != nil {
		return nil, err
	}
	return &CredentialStore{svc: s, slot: sl, cluster: cluster}, nil
}

// IsGatewayKeystoreAvailable reports whether the gateway keystore exists
func (s *Service) IsGatewayKeystoreAvailable() bool {
	return s.gatewaySlot().container.Exists()
}

// CreateGatewayKeystore creates the empty gateway keystore
func (s *Service) CreateGatewayKeystore() error {
	sl := s.gatewaySlot()
	if err := sl.create(s); err != nil {
		return err
	}

	s.logger.Info().Str("path", sl.container.Path()).Msg("Gateway keystore created")
	s.publisher.Publish(&events.Event{
		Type:    events.EventKeystoreCreated,
		Message: "gateway keystore created",
	})
	return nil
}

// LoadedCredentialStores returns the number of credential stores held unlocked in memory
func (s *Service) LoadedCredentialStores() int {
	s.mu.Lock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.Unlock()

	n := 0
	for _, sl := range slots {
		if sl.kind == storage.KindCredentialStore && sl.isLoaded() {
			n++
		}
	}
	return n
}

// Clusters lists the clusters that have a credential store on disk
func (s *Service) Clusters() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &types.Error{Kind: types.KindKeystore, Op: "list clusters", Err: err}
	}

	var clusters []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, credentialStoreSuffix) {
			continue
		}
		clusters = append(clusters, strings.TrimSuffix(name, credentialStoreSuffix))
	}
	sort.Strings(clusters)
	return clusters, nil
}

// credentialSlot returns the arena slot of a validated cluster name
func (s *Service) credentialSlot(cluster string) *slot {
	return s.slotFor(cluster+credentialStoreSuffix, storage.KindCredentialStore, cluster)
}

func (s *Service) gatewaySlot() *slot {
	return s.slotFor(GatewayKeystoreFile, storage.KindGatewayKeystore, gatewayKeystoreName)
}

func (s *Service) slotFor(file, kind, name string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[file]
	if !ok {
		sl = newSlot(storage.NewBoltContainer(filepath.Join(s.dir, file)), kind, name)
		s.slots[file] = sl
	}
	return sl
}

// existingSlot returns the slot for a file name if one was ever used
func (s *Service) existingSlot(file string) (*slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[file]
	return sl, ok
}
