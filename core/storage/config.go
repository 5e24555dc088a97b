package storage

// Config holds the object store settings.
type Config struct {
	// Endpoint is host:port of the S3 compatible service; a scheme is ignored.
	Endpoint  string `mapstructure:"endpoint" default:"localhost:9000"`
	AccessKey string `mapstructure:"access_key" default:"minioadmin"`
	SecretKey string `mapstructure:"secret_key" default:"minioadmin"`
	UseSSL    bool   `mapstructure:"use_ssl" default:"false"`
	// Bucket receives the mirrored files.
	Bucket string `mapstructure:"bucket" default:"localsync"`
	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix" default:""`
	Region string `mapstructure:"region" default:""`
	// TimeoutSeconds bounds dialing, the TLS handshake and the first
	// response byte.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
	// Enabled turns the remote side on.
	Enabled bool `mapstructure:"enabled" default:"false"`
}
