package database

// Config holds configuration for the state cache database.
type Config struct {
	// Driver is the database driver (sqlite, mysql).
	Driver string `mapstructure:"driver" default:"sqlite"`
	// Name is the database name, or the database file for sqlite.
	Name string `mapstructure:"name" default:"~/.localsync/state.db"`
	// Host is the database host.
	Host string `mapstructure:"host" default:"localhost"`
	// Port is the database port.
	Port int `mapstructure:"port" default:"3306"`
	// User is the database user.
	User string `mapstructure:"user" default:"root"`
	// Password is the database password.
	Password string `mapstructure:"password" default:""`
	// TimeoutSeconds bounds connection setup and I/O.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"30"`
	// BatchSize is the number of rows written per insert statement.
	BatchSize int `mapstructure:"batch_size" default:"500"`
}

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)
