package transfer

import (
	"errors"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config for Manager and the processes built around it.
type Config struct {
	// Descriptors, transfer outputs and archives are kept under this directory.
	DataDir string `yaml:"data-dir"`
	// Pending archive deletions are recorded in this database file. Empty disables the ledger.
	Database string `yaml:"database"`

	// Host to listen for API requests.
	Host string `yaml:"host"`
	// Listen port for API requests.
	Port int `yaml:"port"`
	// Time to wait for in-flight requests on shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`

	// Peer listen ports for transfers are allocated from [PortBegin, PortEnd).
	PortBegin uint16 `yaml:"port-begin"`
	PortEnd   uint16 `yaml:"port-end"`
	// Enable DHT for peer discovery.
	DHTEnabled bool `yaml:"dht-enabled"`
	// Map peer listen ports on the router with UPnP.
	PortForwardingEnabled bool `yaml:"port-forwarding-enabled"`
	// Continue uploading after a transfer is complete.
	Seed bool `yaml:"seed"`

	// Submitted descriptors larger than this are rejected.
	MaxDescriptorSize int64 `yaml:"max-descriptor-size"`
	// Archives are deleted after being served for this long.
	ArchiveGracePeriod time.Duration `yaml:"archive-grace-period"`
	// Bytes per second shared by all file and archive downloads served over HTTP. Zero is unlimited.
	ServeRate int64 `yaml:"serve-rate"`
}

// DefaultConfig for Manager.
var DefaultConfig = Config{
	DataDir:               "~/rainhub/data",
	Database:              "~/rainhub/archives.db",
	Host:                  "127.0.0.1",
	Port:                  7246,
	ShutdownTimeout:       5 * time.Second,
	PortBegin:             50000,
	PortEnd:               60000,
	DHTEnabled:            true,
	PortForwardingEnabled: true,
	MaxDescriptorSize:     10 << 20,
	ArchiveGracePeriod:    time.Minute,
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
// A missing file is not an error.
func LoadConfig(filename string) (Config, error) {
	c := DefaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return c, err
	}
	b, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	err = yaml.Unmarshal(b, &c)
	return c, err
}

// Expand replaces leading "~" in path fields with the home directory.
func (c *Config) Expand() error {
	var err error
	c.DataDir, err = homedir.Expand(c.DataDir)
	if err != nil {
		return err
	}
	c.Database, err = homedir.Expand(c.Database)
	return err
}
