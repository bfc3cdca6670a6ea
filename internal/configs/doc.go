// Package configs manages aclsync configuration.
//
// Configuration is stored as TOML in .aclsync/config.toml at the project
// root. Missing keys fall back to the defaults from Default:
//
//	[engine]
//	fan_out = 8
//	min_key_bits = 2048
//	allowed_algorithms = ["RSA"]
//	validate_after_persist = true
//
//	[store]
//	driver = "file"        # or "postgres"
//	dsn = ""
//
//	[actor]
//	user_id = "<uuid>"
//	private_key_path = ""  # defaults to the user keys directory
//
//	[sweep]
//	interval = "15m"
//	metrics_addr = ":9464"
//
//	[audit]
//	enabled = true
//
// # Settings
//
// UserSettings holds per-user paths computed at startup. Call
// InitProjectSettings before accessing ProjectSettings. It walks up the
// directory tree to find the nearest .aclsync directory.
package configs
