// Package aeconfig holds the configuration surface for an AKE endpoint: a
// DefaultConfig constructor, functional-option-style With* builders
// returning modified copies, and a Validate method returning a typed
// *ConfigError.
package aeconfig

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantumcall/ake-bridge/internal/keystore"
	"github.com/quantumcall/ake-bridge/internal/registry"
)

// Role selects which side of the AKE an endpoint plays.
type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Default configuration values.
const (
	DefaultPort         = 9000
	DefaultFrameTimeout = 30 * time.Second
	DefaultConnTimeout  = 30 * time.Second
)

// Config holds everything an AKE endpoint needs to run one session.
type Config struct {
	// Role selects responder (listen) or initiator (dial).
	Role Role

	// ListenAddr is the responder's bind address, e.g. ":9000".
	ListenAddr string

	// PeerAddr is the initiator's dial target, e.g. "203.0.113.5:9000".
	PeerAddr string

	// Username is the initiator's identity, required only for RoleInitiator.
	Username string

	// RegistryPath is the responder's TOFU identity store file.
	RegistryPath string

	// KeyStorePath is the initiator's long-term signature key file.
	KeyStorePath string

	// FrameTimeout bounds each individual frame read/write.
	FrameTimeout time.Duration

	// ConnTimeout bounds the initiator's TCP dial.
	ConnTimeout time.Duration

	// Logger holds an optional custom logger instance. Nothing in this
	// module reads it: cmd/akexd always builds its logger with akelog.New.
	Logger *logrus.Logger

	// Debug enables debug-level logging.
	Debug bool
}

// DefaultConfig returns a Config with sensible defaults for the given role.
// PeerAddr, Username, ListenAddr, Logger and Debug have With* builders;
// the other fields are overridden by direct assignment.
func DefaultConfig(role Role) *Config {
	return &Config{
		Role:         role,
		ListenAddr:   fmt.Sprintf(":%d", DefaultPort),
		RegistryPath: registry.DefaultPath,
		KeyStorePath: keystore.DefaultPath,
		FrameTimeout: DefaultFrameTimeout,
		ConnTimeout:  DefaultConnTimeout,
		Debug:        false,
	}
}

// WithPeerAddr sets the initiator's dial target.
func (c *Config) WithPeerAddr(addr string) *Config {
	cp := *c
	cp.PeerAddr = addr
	return &cp
}

// WithUsername sets the initiator's username.
func (c *Config) WithUsername(username string) *Config {
	cp := *c
	cp.Username = username
	return &cp
}

// WithListenAddr sets the responder's bind address.
func (c *Config) WithListenAddr(addr string) *Config {
	cp := *c
	cp.ListenAddr = addr
	return &cp
}

// WithLogger installs a custom logger.
func (c *Config) WithLogger(logger *logrus.Logger) *Config {
	cp := *c
	cp.Logger = logger
	return &cp
}

// WithDebug toggles debug logging.
func (c *Config) WithDebug(debug bool) *Config {
	cp := *c
	cp.Debug = debug
	return &cp
}

// ConfigError reports a single invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("aeconfig: %s: %s", e.Field, e.Message)
}

// Validate checks that the configuration is complete and consistent for
// its Role. Returns a *ConfigError if any required field is missing.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleResponder:
		if c.ListenAddr == "" {
			return &ConfigError{Field: "ListenAddr", Message: "required for responder role"}
		}
		if c.RegistryPath == "" {
			return &ConfigError{Field: "RegistryPath", Message: "required for responder role"}
		}
	case RoleInitiator:
		if c.PeerAddr == "" {
			return &ConfigError{Field: "PeerAddr", Message: "required for initiator role"}
		}
		if c.Username == "" {
			return &ConfigError{Field: "Username", Message: "required for initiator role"}
		}
		if c.KeyStorePath == "" {
			return &ConfigError{Field: "KeyStorePath", Message: "required for initiator role"}
		}
	default:
		return &ConfigError{Field: "Role", Message: "unknown role"}
	}

	if c.FrameTimeout < 0 {
		return &ConfigError{Field: "FrameTimeout", Message: "must not be negative"}
	}
	return nil
}
