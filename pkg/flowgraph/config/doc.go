// Package config reads YAML and JSON documents into a Config with typed,
// default-returning accessors over dotted key paths.
//
// The collection catalog is loaded this way, a site file layered over the
// shared one:
//
//	cfg, err := config.FromFiles("catalog.yaml", "site.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, name := range cfg.Sub("collections").Keys() {
//	    desc := cfg.String("collections."+name+".description", "")
//	    ...
//	}
//
// Durations accept Go duration strings or a number of seconds. Numbers
// convert between int and float64 only when no precision is lost.
//
// Config is safe for concurrent reads.
package config
