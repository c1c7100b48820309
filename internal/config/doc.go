// Package config provides configuration management for the nodeai server.
//
// Configuration is loaded from environment variables using the env package,
// after an optional .env file in the working directory. Redis and Postgres are
// optional: leaving REDIS_ADDR or DATABASE_URL empty selects the in-memory
// stores, so the server starts with no external dependencies.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
