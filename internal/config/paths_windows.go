//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	local := os.Getenv("LOCALAPPDATA")
	programData := os.Getenv("ProgramData")
	return []string{
		"probe.yaml",
		filepath.Join(local, "Vitalis", "probe.yaml"),
		filepath.Join(programData, "Vitalis", "probe.yaml"),
	}
}
