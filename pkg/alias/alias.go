package alias

import (
	"errors"
	"fmt"

	"github.com/cuemby/gatekeeper/pkg/events"
	"github.com/cuemby/gatekeeper/pkg/keystore"
	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/rs/zerolog"
)

// GeneratedSecretBytes is the entropy of generated alias values. The stored
// value is its unpadded base64url text, 32 characters.
const GeneratedSecretBytes = 24

// Keystore is the part of the keystore service the alias service uses
type Keystore interface {
	IsCredentialStoreAvailable(cluster string) bool
	CreateCredentialStore(cluster string) error
	CredentialStore(cluster string) (*keystore.CredentialStore, error)
}

// Service manages named secrets in the per-cluster credential stores. An
// empty cluster name means the gateway's own store. Writes create the
// cluster's store on demand; reads fail with KindCredentialStoreNotFound
// when it does not exist.
type Service struct {
	keystore  Keystore
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewService creates an alias service
func NewService(ks Keystore, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Service{
		keystore:  ks,
		publisher: publisher,
		logger:    log.WithComponent("alias"),
	}
}

// AddAlias stores value under name, replacing any existing value
func (s *Service) AddAlias(cluster, name string, value []byte) (err error) {
	const op = "add alias"
	cluster = types.ResolveCluster(cluster)
	defer observe("add", metrics.NewTimer(), &err)

	store, err := s.writableStore(op, cluster, name)
	if err != nil {
		return err
	}
	if err := store.Put(name, value); err != nil {
		return types.WithOp(err, op)
	}

	s.created(cluster, name, false)
	return nil
}

// GenerateAlias stores a random value under name and returns it. An
// existing value is replaced, the same as AddAlias.
func (s *Service) GenerateAlias(cluster, name string) (value []byte, err error) {
	const op = "generate alias"
	cluster = types.ResolveCluster(cluster)
	defer observe("generate", metrics.NewTimer(), &err)

	store, err := s.writableStore(op, cluster, name)
	if err != nil {
		return nil, err
	}

	value, err = security.RandomSecret(GeneratedSecretBytes)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Cluster: cluster, Alias: name, Err: err}
	}
	if err := store.Put(name, value); err != nil {
		return nil, types.WithOp(err, op)
	}

	s.created(cluster, name, true)
	return value, nil
}

// GetPassword returns the value stored under name. It fails with
// KindAliasNotFound when the alias is absent.
func (s *Service) GetPassword(cluster, name string) (value []byte, err error) {
	const op = "get password"
	cluster = types.ResolveCluster(cluster)
	defer observe("get", metrics.NewTimer(), &err)

	if err := types.ValidateAliasName(name); err != nil {
		return nil, err
	}
	store, err := s.keystore.CredentialStore(cluster)
	if err != nil {
		return nil, types.WithOp(err, op)
	}
	value, err = store.Get(name)
	if err != nil {
		return nil, types.WithOp(err, op)
	}
	return value, nil
}

// GetPasswordOrGenerate returns the value stored under name, generating and
// storing one first if the alias is absent. The store is created on demand.
func (s *Service) GetPasswordOrGenerate(cluster, name string) (value []byte, err error) {
	const op = "get or generate password"
	cluster = types.ResolveCluster(cluster)
	defer observe("get_or_generate", metrics.NewTimer(), &err)

	store, err := s.writableStore(op, cluster, name)
	if err != nil {
		return nil, err
	}

	candidate, err := security.RandomSecret(GeneratedSecretBytes)
	if err != nil {
		return nil, &types.Error{Kind: types.KindKeystore, Op: op, Cluster: cluster, Alias: name, Err: err}
	}
	value, generated, err := store.PutIfAbsent(name, candidate)
	if err != nil {
		return nil, types.WithOp(err, op)
	}
	if generated {
		s.created(cluster, name, true)
	}
	return value, nil
}

// RemoveAlias deletes name. Removing an absent alias, or an alias of a
// cluster without a credential store, only logs a warning.
func (s *Service) RemoveAlias(cluster, name string) (err error) {
	const op = "remove alias"
	cluster = types.ResolveCluster(cluster)
	defer observe("remove", metrics.NewTimer(), &err)

	if err := types.ValidateAliasName(name); err != nil {
		return err
	}
	if err := types.ValidateClusterName(cluster); err != nil {
		return err
	}
	if !s.keystore.IsCredentialStoreAvailable(cluster) {
		s.logger.Warn().Str("cluster", cluster).Str("alias", name).Msg("No credential store for cluster, nothing to remove")
		return nil
	}

	store, err := s.keystore.CredentialStore(cluster)
	if err != nil {
		return types.WithOp(err, op)
	}
	existed, err := store.Delete(name)
	if err != nil {
		return types.WithOp(err, op)
	}
	if !existed {
		s.logger.Warn().Str("cluster", cluster).Str("alias", name).Msg("Alias does not exist, nothing to remove")
		return nil
	}

	s.logger.Info().Str("cluster", cluster).Str("alias", name).Msg("Alias removed")
	s.publisher.Publish(&events.Event{
		Type:    events.EventAliasDeleted,
		Cluster: cluster,
		Alias:   name,
		Message: fmt.Sprintf("alias %s removed from cluster %s", name, cluster),
	})
	return nil
}

// ListAliases returns the alias names of a cluster, sorted
func (s *Service) ListAliases(cluster string) (names []string, err error) {
	const op = "list aliases"
	cluster = types.ResolveCluster(cluster)
	defer observe("list", metrics.NewTimer(), &err)

	store, err := s.keystore.CredentialStore(cluster)
	if err != nil {
		return nil, types.WithOp(err, op)
	}
	names, err = store.Names()
	if err != nil {
		return nil, types.WithOp(err, op)
	}
	return names, nil
}

// writableStore returns the cluster's credential store, creating it first if
// it does not exist
func (s *Service) writableStore(op, cluster, name string) (*keystore.CredentialStore, error) {
	if err := types.ValidateAliasName(name); err != nil {
		return nil, err
	}
	if err := types.ValidateClusterName(cluster); err != nil {
		return nil, err
	}

	if !s.keystore.IsCredentialStoreAvailable(cluster) {
		err := s.keystore.CreateCredentialStore(cluster)
		// another writer may have created it in between
		if err != nil && !errors.Is(err, types.ErrExists) {
			return nil, types.WithOp(err, op)
		}
		if err == nil {
			s.logger.Info().Str("cluster", cluster).Msg("Created credential store on first write")
		}
	}

	store, err := s.keystore.CredentialStore(cluster)
	if err != nil {
		return nil, types.WithOp(err, op)
	}
	return store, nil
}

func (s *Service) created(cluster, name string, generated bool) {
	s.logger.Info().Str("cluster", cluster).Str("alias", name).Bool("generated", generated).Msg("Alias stored")
	s.publisher.Publish(&events.Event{
		Type:     events.EventAliasCreated,
		Cluster:  cluster,
		Alias:    name,
		Message:  fmt.Sprintf("alias %s stored in cluster %s", name, cluster),
		Metadata: map[string]string{"generated": fmt.Sprintf("%t", generated)},
	})
}

func observe(op string, timer *metrics.Timer, err *error) {
	timer.ObserveOperation("alias_" + op)
	metrics.AliasOperations.WithLabelValues(op, metrics.Result(*err)).Inc()
}
