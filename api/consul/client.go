package consul

import (
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

type Client struct {
	api *consulapi.Client
}

func NewClient(addr string) (*Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Client{api: client}, nil
}

// Healthy checks connectivity to Consul.
func (c *Client) Healthy() error {
	_, err := c.api.Status().Leader()
	return err
}

// CreateSession opens a session that expires after ttl unless renewed. Keys
// locked by the session are deleted when it goes away.
func (c *Client) CreateSession(name string, ttl time.Duration) (string, error) {
	id, _, err := c.api.Session().Create(&consulapi.SessionEntry{
		Name:     name,
		TTL:      ttl.String(),
		Behavior: consulapi.SessionBehaviorDelete,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (c *Client) DestroySession(id string) error {
	_, err := c.api.Session().Destroy(id, nil)
	return err
}

// AcquireKey locks key for session. It reports false when another session
// holds the lock.
func (c *Client) AcquireKey(key string, value []byte, session string) (bool, error) {
	ok, _, err := c.api.KV().Acquire(&consulapi.KVPair{Key: key, Value: value, Session: session}, nil)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// GetKey returns nil when the key does not exist.
func (c *Client) GetKey(key string) (*consulapi.KVPair, error) {
	pair, _, err := c.api.KV().Get(key, nil)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return pair, nil
}
