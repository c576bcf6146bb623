// Package config handles loading and validating FireWatch Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - An optional .env file for local development
//   - Overriding with FIREWATCH_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - The device bearer token, database DSN, AMQP URL and Telegram bot token
//     should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Liveness.StalenessWindow)
package config
