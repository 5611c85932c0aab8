package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config for one side of a link.
func Template(side string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case "a":
		return fmt.Sprintf(nodeTemplate, "core-app", "a", "127.0.0.1:7070"), nil
	case "b":
		return fmt.Sprintf(nodeTemplate, "core-net", "b", "127.0.0.1:7071"), nil
	default:
		return "", fmt.Errorf("unknown side: %s", side)
	}
}

func WriteTemplate(path, side string, overwrite bool) error {
	template, err := Template(side)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const nodeTemplate = `name = %q
side = %q

[region]
path = "/dev/shm/ipcmux.region"
size = 16384
block_count = 64
poll_interval = "1ms"

[rpc]
thread_pool = 2
contexts = 8
mailbox_depth = 4

[admin]
enabled = true
addr = %q
cors_origins = ["http://localhost:3000"]

[log]
level = "info"
`
