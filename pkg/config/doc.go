/*
Package config loads and validates CachePilot's host configuration.

Configuration is a YAML file overlaid on compiled-in defaults; a missing
file just means defaults. Load validates the result once so the rest of
the codebase can trust it: port ranges must be sane and disjoint, and
the certificate renewal threshold must fit inside the leaf validity.

	cfg, err := config.Load("/etc/cachepilot/config.yml")
*/
package config
