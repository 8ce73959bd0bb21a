package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# stealth-trader engine configuration

[engine]
tick_interval = "60s"
batch_size = 25
max_concurrent_batches = 4
fetch_timeout = "10s"
failure_escalation = 5
session_only = true

[stages]
# Thresholds are fractions of entry price.
breakeven_threshold = 0.005
trailing_threshold = 0.008
explosive_threshold = 0.05
moon_threshold = 0.25
trailing_distance = 0.008
explosive_distance = 0.005
moon_distance = 0.003
base_take_profit = 0.10
moon_take_profit_boost = 1.5

[exits]
max_holding = "4h"
momentum_arm_level = 55.0
momentum_exit_level = 45.0
volume_floor = 0.4
volume_decline_ticks = 3

[publish]
max_attempts = 3
initial_delay = "500ms"
max_delay = "10s"
backoff_factor = 2.0

[market_data]
provider = "sim" # "kite" for live quotes

[market_data.kite]
api_key = ""
access_token = ""
exchange = "NSE"

[notifications]
enabled = true
level = "all" # all, exits_only, errors_only
terminal = true

[notifications.webhook]
enabled = false
url = ""

[metrics]
enabled = false
addr = ":9090"

[logging]
level = "info"
console = true
file = true
`

// writeTemplate writes a commented config template so a first run leaves
// something editable behind.
func writeTemplate(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0644)
}
