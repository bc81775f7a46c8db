// Package config loads, normalizes, and validates opal configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPAL_DATABASE_URL and REMOVEBG_API_KEY. The Config type centralizes every
// knob the stage workers and CLI need: queue transport, blob backend, record
// store, transformation providers, and export sinks.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config
