/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config provides loading of configuration objects from files,
// readers, and environment variables.
package config

// Config is an interface for configuration objects that can be loaded by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for configuration objects that use a key prefix
// for all of their configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}
