// Package config loads the application configuration.
//
// Every setting has a default declared in a `default` struct tag next to its
// `mapstructure` key. Values are overridden by environment variables, with
// dots replaced by underscores (SYNC_ROOT, DATABASE_DRIVER, STORAGE_BUCKET),
// and by a .env file in the working directory.
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Sync.Root)
package config
