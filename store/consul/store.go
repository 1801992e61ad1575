package consul

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/pakfs/data"
	"github.com/mwantia/pakfs/resolver"
	"github.com/mwantia/pakfs/store"
)

// Config contains the connection options for the Consul store.
type Config struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string

	// Token for Consul ACL authentication (optional)
	Token string

	// Datacenter to use (optional)
	Datacenter string

	// Prefix for all keys in Consul KV (default: "pakfs")
	Prefix string

	Profile string
}

// Store keeps resolver states as encoded records in the Consul KV store under
// "<prefix>/state/<profile>".
type Store struct {
	client *api.Client
	kv     *api.KV
	key    string
}

func New(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}

	address := config.Address
	if address == "" {
		address = "127.0.0.1:8500"
	}
	prefix := strings.Trim(config.Prefix, "/")
	if prefix == "" {
		prefix = "pakfs"
	}

	clientConfig := api.DefaultConfig()
	clientConfig.Address = address
	if config.Token != "" {
		clientConfig.Token = config.Token
	}
	if config.Datacenter != "" {
		clientConfig.Datacenter = config.Datacenter
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return &Store{
		client: client,
		kv:     client.KV(),
		key:    prefix + "/state/" + store.ProfileOrDefault(config.Profile),
	}, nil
}

func (*Store) Name() string {
	return "consul"
}

// Key returns the KV key the state is stored under.
func (s *Store) Key() string {
	return s.key
}

func (s *Store) Load(ctx context.Context) (*resolver.State, error) {
	pair, _, err := s.kv.Get(s.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, fmt.Errorf("%w: no state saved under %q", data.ErrNotExist, s.key)
	}

	return store.Decode(pair.Value)
}

func (s *Store) Save(ctx context.Context, state *resolver.State) error {
	raw, err := store.Encode(state)
	if err != nil {
		return err
	}

	_, err = s.kv.Put(&api.KVPair{Key: s.key, Value: raw}, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

// Delete removes the saved state.
func (s *Store) Delete(ctx context.Context) error {
	_, err := s.kv.Delete(s.key, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

// Close is a no-op, the Consul client is stateless.
func (s *Store) Close() error {
	return nil
}
