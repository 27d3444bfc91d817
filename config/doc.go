// Package config loads service configuration with viper.
//
// Values come from, in increasing precedence: a YAML file found next to the
// binary or under ./config, a .env file, and TASKFLOW_-prefixed environment
// variables. TASKFLOW_DATABASE_DSN overrides database.dsn.
package config
