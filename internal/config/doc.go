// Package config loads the service configuration.
//
// Sources, lowest precedence first:
//
//  1. Default()
//  2. a YAML file: $CLINIC_CONFIG_FILE, else config.yaml or configs/config.yaml
//  3. a .env file in the working directory
//  4. CLINIC_* environment variables, e.g. CLINIC_DATABASE_URL or CLINIC_QUEUE_WORKERS
//
// The merged result is checked with validator struct tags before it is returned.
package config
