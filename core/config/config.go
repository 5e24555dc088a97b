package config

import (
	"reflect"
	"strings"

	"localsync/core/database"
	"localsync/core/logger"
	"localsync/core/reconcile"
	"localsync/core/server"
	"localsync/core/storage"
	"localsync/core/transfer"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// SyncID names the sync instance inside the state database.
	SyncID string `mapstructure:"sync_id" default:"default"`
	// Sync holds the engine settings.
	Sync reconcile.Config `mapstructure:"sync"`
	// Transfer holds the transfer worker settings.
	Transfer transfer.Config `mapstructure:"transfer"`
	// Server holds configuration for the status server.
	Server server.Config `mapstructure:"server"`
	// Storage holds configuration for the remote object store.
	Storage storage.Config `mapstructure:"storage"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Database holds configuration for the state database.
	Database database.Config `mapstructure:"database"`
}

// LoadConfig loads configuration from environment variables and the .env
// file found in path.
func LoadConfig(path string) (*Config, error) {
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// A missing .env is normal outside development.
	_ = godotenv.Overload(envPath)

	v := viper.New()
	bindValues(v, Config{}, "")

	// SYNC_ROOT -> sync.root
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	root, err := homedir.Expand(config.Sync.Root)
	if err != nil {
		return nil, err
	}
	config.Sync.Root = root
	return &config, nil
}

// bindValues registers every mapstructure key with its default tag so that
// AutomaticEnv can resolve it.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		v.SetDefault(key, field.Tag.Get("default"))
	}
}
