package module

import (
	"fmt"
	"time"

	"github.com/roach88/txmod/internal/txdata"
	"github.com/roach88/txmod/internal/value"
)

// Config is the runtime-visible part of a module's configuration.
type Config interface {
	// InclusionPolicies decide which parts of a transaction the module sees.
	InclusionPolicies() txdata.Policies

	// InitializeUntil forces reinitialization at every start before this
	// time. Zero disables it.
	InitializeUntil() time.Time

	// Fingerprint is a stable digest of the configuration. A change between
	// two starts triggers reinitialization.
	Fingerprint() (string, error)
}

// BaseConfig is a Config built from policies and free-form settings.
type BaseConfig struct {
	Policies txdata.Policies

	// Settings are module-specific options included in the fingerprint.
	Settings value.Object

	// Until is returned by InitializeUntil and excluded from the fingerprint.
	Until time.Time
}

var _ Config = BaseConfig{}

// NewConfig returns a BaseConfig with default policies.
func NewConfig() BaseConfig {
	return BaseConfig{Policies: txdata.DefaultPolicies()}
}

// WithPolicies returns a copy with the given policies.
func (c BaseConfig) WithPolicies(p txdata.Policies) BaseConfig {
	c.Policies = p
	return c
}

// WithSetting returns a copy with key set to v.
func (c BaseConfig) WithSetting(key string, v value.Value) BaseConfig {
	settings := c.Settings.Clone()
	if settings == nil {
		settings = value.Object{}
	}
	settings[key] = v
	c.Settings = settings
	return c
}

// WithInitializeUntil returns a copy with the forced-reinitialization deadline set.
func (c BaseConfig) WithInitializeUntil(t time.Time) BaseConfig {
	c.Until = t
	return c
}

func (c BaseConfig) InclusionPolicies() txdata.Policies { return c.Policies }

func (c BaseConfig) InitializeUntil() time.Time { return c.Until }

// Fingerprint hashes {policies, settings} under DomainModuleConfig.
func (c BaseConfig) Fingerprint() (string, error) {
	settings := c.Settings
	if settings == nil {
		settings = value.Object{}
	}
	doc := value.Object{
		"policies": c.Policies.Describe(),
		"settings": settings,
	}
	fp, err := value.Hash(value.DomainModuleConfig, doc)
	if err != nil {
		return "", fmt.Errorf("module config fingerprint: %w", err)
	}
	return fp, nil
}

// Setting returns a setting and whether it exists.
func (c BaseConfig) Setting(key string) (value.Value, bool) {
	v, ok := c.Settings[key]
	return v, ok
}
