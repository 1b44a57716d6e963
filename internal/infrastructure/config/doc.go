// Package config handles loading and validating push relay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials and database passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Set environment to "production" so unexpected errors are not echoed to clients
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.RateLimit.Ceiling)
package config
