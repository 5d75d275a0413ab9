// Package config loads host configuration from a TOML file with environment
// variable overrides. Defaults apply first, then the file, then AGENTPIPE_
// prefixed environment variables, so every field works with no file present.
package config
