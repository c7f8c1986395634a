// Package config handles loading and validating the Gray Logic publisher configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLOGIC_* environment variables
//   - Validation of every section, reporting all problems at once
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/graylogic-pub.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.BrokerURI())
package config
