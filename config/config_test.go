package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
		invalid bool
	}{
		{
			name:   "default",
			mutate: func(c *Config) {},
		},
		{
			name: "postgres backend",
			mutate: func(c *Config) {
				c.Catalog.Backend = BackendPostgres
				c.Database.Name = "implicit"
				c.Database.User = "postgres"
			},
		},
		{
			name: "postgres backend without database",
			mutate: func(c *Config) {
				c.Catalog.Backend = BackendPostgres
			},
			wantErr: ErrIncomplete,
		},
		{
			name: "nats publisher",
			mutate: func(c *Config) {
				c.Publisher.Type = PublisherNats
				c.Publisher.Address = "nats://127.0.0.1:4222"
				c.Publisher.ClusterID = "test-cluster"
				c.Publisher.ClientID = "implicitctl"
			},
		},
		{
			name: "nats publisher without cluster",
			mutate: func(c *Config) {
				c.Publisher.Type = PublisherNats
				c.Publisher.Address = "nats://127.0.0.1:4222"
			},
			wantErr: ErrIncomplete,
		},
		{
			name: "clickhouse handler",
			mutate: func(c *Config) {
				c.Dumper.Handler = HandlerClickhouse
				c.Dumper.Repository = RepositoryCfg{Host: "127.0.0.1", Port: 9000, Name: "default"}
			},
		},
		{
			name: "clickhouse handler without repository",
			mutate: func(c *Config) {
				c.Dumper.Handler = HandlerClickhouse
			},
			wantErr: ErrIncomplete,
		},
		{
			name: "negative lock timeout",
			mutate: func(c *Config) {
				c.Engine.LockTimeout = -time.Second
			},
			invalid: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "%v", err)
			case tt.invalid:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateTags(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Catalog.Backend = "redis" }},
		{"empty backend", func(c *Config) { c.Catalog.Backend = "" }},
		{"unknown publisher", func(c *Config) { c.Publisher.Type = "kafka" }},
		{"empty topic prefix", func(c *Config) { c.Publisher.TopicPrefix = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
