package transfer

import "time"

// Config tunes the workers that drain a Queue.
type Config struct {
	// Workers is the number of concurrent transfers per direction.
	Workers int `mapstructure:"workers" default:"2"`
	// MaxAttempts bounds how often a transfer is tried before it fails.
	MaxAttempts int `mapstructure:"max_attempts" default:"3"`
	// RetryDelay is the pause before a failed transfer is retried.
	RetryDelay time.Duration `mapstructure:"retry_delay" default:"2s"`
	// ChunkSize is the size of the chunks a MAC is recorded for.
	ChunkSize int64 `mapstructure:"chunk_size" default:"1048576"`
	// PollInterval is how often the remote side is listed for changes.
	PollInterval time.Duration `mapstructure:"poll_interval" default:"30s"`
}
