package logger

// Config holds the logger settings.
type Config struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level" default:"info"`
	// Format is json or console.
	Format string `mapstructure:"format" default:"console"`
	// Output is stderr, stdout or a file path. A long running sync usually
	// logs to a file next to its state cache.
	Output string `mapstructure:"output" default:"stderr"`
}
