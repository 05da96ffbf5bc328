package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid")

const (
	DefaultElectionTimeout   = 150 * time.Millisecond
	DefaultHeartbeatInterval = 50 * time.Millisecond
	DefaultPollInterval      = 250 * time.Millisecond
)

type Node struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	Port    string `yaml:"port"`
}

func (n *Node) GetAddress() string {
	return net.JoinHostPort(n.Address, n.Port)
}

type Config struct {
	ID    string `yaml:"id"`    // this node; empty means keep the persisted id
	Dir   string `yaml:"dir"`   // data directory
	Bind  string `yaml:"bind"`  // consensus listen address, defaults to this node's entry
	Admin string `yaml:"admin"` // admin rpc address, empty disables it

	// election timeout is drawn uniformly from [ElectionTimeout, 2*ElectionTimeout)
	ElectionTimeout   time.Duration `yaml:"election_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"` // upper bound on a single receive wait

	Nodes []Node `yaml:"nodes"`
}

func (c *Config) GetNode(id string) (Node, error) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return Node{}, errors.New("config not found")
}

// Peers returns the initial membership as id -> address.
func (c *Config) Peers() map[string]string {
	peers := make(map[string]string, len(c.Nodes))
	for _, n := range c.Nodes {
		peers[n.ID] = n.GetAddress()
	}
	return peers
}

// SetDefaults fills unset timeouts and the bind address.
func (c *Config) SetDefaults() {
	if c.ElectionTimeout == 0 {
		c.ElectionTimeout = DefaultElectionTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Bind == "" && c.ID != "" {
		if n, err := c.GetNode(c.ID); err == nil {
			c.Bind = n.GetAddress()
		}
	}
}

func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: directory not specified", ErrInvalid)
	}
	if c.ElectionTimeout <= 0 || c.HeartbeatInterval <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	if c.HeartbeatInterval >= c.ElectionTimeout {
		return fmt.Errorf("%w: heartbeat_interval %s must be below election_timeout %s",
			ErrInvalid, c.HeartbeatInterval, c.ElectionTimeout)
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrInvalid)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalid, n.ID)
		}
		seen[n.ID] = true
	}
	if c.Bind == "" {
		return fmt.Errorf("%w: no bind address", ErrInvalid)
	}
	return nil
}

// ReadConfig loads, defaults and validates a YAML config file.
func ReadConfig(file string) (*Config, error) {
	c, err := Parse(file)
	if err != nil {
		return nil, err
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse only decodes file, leaving defaults and validation to the caller
// so command line flags can be applied first.
func Parse(file string) (*Config, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var c Config
	err = yaml.Unmarshal(raw, &c)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return &c, nil
}
