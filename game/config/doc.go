// Package config loads the client's settings.
//
// Settings are layered, later layers winning:
//
//  1. built-in defaults (the reconnect policy is 3s base, 5 attempts)
//  2. an optional YAML, JSON or TOML file passed to Load
//  3. PARTY_* environment variables, e.g. PARTY_SERVER_URL or PARTY_IDLE_GRACE
//  4. command line flags, applied by the caller
//
// LoadDotEnv reads a .env file into the environment first, so step 3 also
// sees values kept there. Validate fills in WSURL from ServerURL (http to ws,
// https to wss) when it is not set explicitly.
//
// Usage:
//
//	config.LoadDotEnv()
//	cfg, err := config.Load(path)
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//	reg := session.NewRegistry(cfg.WSURL, session.WithBackoff(cfg.Backoff()))
package config
