package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseConfig() *Configuration {
	return &Configuration{
		Server: ServerSettings{Port: "3030"},
		Relay:  RelaySettings{HostTag: DefaultHostTag},
	}
}

func TestApplyStartupArgsOverridesPortAndHostTag(t *testing.T) {
	cfg := baseConfig()

	ApplyStartupArgs(cfg, []string{"4040", "controlcenter_acme"})

	assert.Equal(t, "4040", cfg.Server.Port)
	assert.Equal(t, "controlcenter_acme", cfg.Relay.HostTag)
}

func TestApplyStartupArgsIgnoresNonNumericPort(t *testing.T) {
	cfg := baseConfig()

	ApplyStartupArgs(cfg, []string{"not-a-port"})

	assert.Equal(t, "3030", cfg.Server.Port)
}

func TestApplyStartupArgsPartial(t *testing.T) {
	cfg := baseConfig()

	ApplyStartupArgs(cfg, []string{"5050"})

	assert.Equal(t, "5050", cfg.Server.Port)
	assert.Equal(t, DefaultHostTag, cfg.Relay.HostTag)
}

func TestApplyStartupArgsEmpty(t *testing.T) {
	cfg := baseConfig()

	ApplyStartupArgs(cfg, nil)

	assert.Equal(t, "3030", cfg.Server.Port)
	assert.Equal(t, DefaultHostTag, cfg.Relay.HostTag)
}
