// Package loader registers features and mounts the enabled ones on the HTTP
// router.
//
//	mgr := loader.NewManager()
//	mgr.Register(status.NewFeature(engine, logg))
//	names, err := mgr.LoadAll(app)
package loader
