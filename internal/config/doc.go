// Package config handles configuration loading for voxplane.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion, environment overrides and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from VOXPLANE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/voxplane/config.yaml
//  3. ~/.config/voxplane/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${VOXPLANE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Environment Overrides
//
// After the file is parsed, VOXPLANE_* variables override individual
// fields, e.g. VOXPLANE_SERVER_HTTP_ADDR or VOXPLANE_LOGGING_LEVEL. This
// lets containerized deployments tweak a shared config file without
// editing it.
//
// # Duration Parsing
//
// Interval fields accept Go duration strings ("30s", "5m", "1h"):
//
//	reconcile:
//	  interval: "1m"
//	  session_max_age: "1h"
package config
