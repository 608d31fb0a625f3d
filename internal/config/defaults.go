package config

var defaults = map[string]any{
	"secret":      "",
	"log_level":   "info",
	"listen_addr": ":8080",

	"allowed_networks": "",
	"support_url":      DEFAULT_SUPPORT_URL,
	"base_url":         "/",
	"timezone":         "Local",

	"device_token_ttl":      "720h",
	"pairing_ttl":           "10m",
	"pairing_max_attempts":  10,
	"policy_sync_overdue":   "10m",
	"request_dedupe_window": "2m",

	"audit_max_entries": 5000,
	"audit_max_age":     "4320h", // 180 days

	"diagnostics_max_bytes":  50 << 20,
	"diagnostics_list_limit": 10,

	"dashboard_token_ttl": "12h",
	"pairing_qr_ttl":      "10m",

	"rbac.policy_file": "",
	"rbac.admins":      []string{},

	"storage.type":               "file",
	"storage.file.path":          "state.json",
	"storage.sqlite.path":        "state.db",
	"storage.badger.path":        "badger",
	"storage.badger.sync_writes": true,
	"storage.s3.region":          "us-east-1",
	"storage.s3.key":             "family-safety/state.json",
	"storage.mirror.type":        "",

	"events.nats_url": "",
	"events.subject":  "family-safety",

	"email.host":     "",
	"email.port":     25,
	"email.username": "",
	"email.password": "",
	"email.from":     "noreply@example.com",
	"notify_emails":  "",
}

func Defaults() map[string]any {
	values := make(map[string]any)
	for k, v := range defaults {
		values[k] = v
	}
	return values
}
