package server

import "net"

// Config holds configuration for the status HTTP server.
type Config struct {
	// Host is the interface to bind; loopback by default.
	Host string `mapstructure:"host" default:"127.0.0.1"`
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey protects the mutating routes. Empty disables the check.
	ApiKey string `mapstructure:"api_key" default:""`
	// Enabled starts the server together with the sync.
	Enabled bool `mapstructure:"enabled" default:"true"`
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
