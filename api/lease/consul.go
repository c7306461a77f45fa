package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// KV is the subset of the consul client the lease needs.
type KV interface {
	CreateSession(name string, ttl time.Duration) (string, error)
	DestroySession(id string) error
	AcquireKey(key string, value []byte, session string) (bool, error)
	GetKey(key string) (*consulapi.KVPair, error)
}

type consulValue struct {
	Holder  string `json:"holder"`
	Session string `json:"session"`
}

// Consul holds each lease as a key locked by a TTL session, so a lease whose
// callback never arrives expires on its own.
type Consul struct {
	kv     KV
	prefix string
	ttl    time.Duration
}

func NewConsul(kv KV, prefix string, ttl time.Duration) *Consul {
	if prefix == "" {
		prefix = "scaffold/leases"
	}
	if ttl < 10*time.Second {
		ttl = 10 * time.Second
	}
	return &Consul{kv: kv, prefix: prefix, ttl: ttl}
}

func (c *Consul) key(k string) string {
	return path.Join(c.prefix, k)
}

func (c *Consul) Acquire(_ context.Context, key, holder string) error {
	cur, err := c.current(key)
	if err != nil {
		return err
	}
	if cur != nil {
		if cur.Holder == holder {
			return nil
		}
		return fmt.Errorf("%w: %s is held by %s", ErrHeld, key, cur.Holder)
	}

	session, err := c.kv.CreateSession("scaffold-lease-"+key, c.ttl)
	if err != nil {
		return err
	}
	value, _ := json.Marshal(consulValue{Holder: holder, Session: session})
	ok, err := c.kv.AcquireKey(c.key(key), value, session)
	if err != nil || !ok {
		c.kv.DestroySession(session)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrHeld, key)
	}
	return nil
}

func (c *Consul) Release(_ context.Context, key, holder string) error {
	cur, err := c.current(key)
	if err != nil || cur == nil || cur.Holder != holder {
		return err
	}
	return c.kv.DestroySession(cur.Session)
}

func (c *Consul) Holder(_ context.Context, key string) (string, error) {
	cur, err := c.current(key)
	if err != nil || cur == nil {
		return "", err
	}
	return cur.Holder, nil
}

func (c *Consul) current(key string) (*consulValue, error) {
	pair, err := c.kv.GetKey(c.key(key))
	if err != nil {
		return nil, err
	}
	if pair == nil || pair.Session == "" {
		return nil, nil
	}
	var v consulValue
	if err := json.Unmarshal(pair.Value, &v); err != nil {
		return nil, fmt.Errorf("decode lease %s: %w", key, err)
	}
	return &v, nil
}
