//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"probe.yaml",
		filepath.Join(home, ".vitalis", "probe.yaml"),
		"/etc/vitalis/probe.yaml",
	}
}
