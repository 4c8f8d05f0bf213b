package config

import (
	"os"
	"path/filepath"
	"sync"
)

// EnvHome overrides the home directory.
const EnvHome = "WEBTEST_RUNNER_HOME"

// The home directory holds state that outlives a single command:
//
//	<home>/data/webtest.db      default SQLite database
//	<home>/data/screenshots/    default screenshot blobs
//	<home>/reports/<timestamp>/ run command reports without --output
var (
	homeOnce sync.Once
	homeDir  string
)

// homeCandidates are tried in order; the first non-empty answer wins.
var homeCandidates = []func() string{
	homeFromEnv,
	homeFromBinary,
	homeFromCwd,
}

// GetHome returns the webtest-runner home directory. It is resolved once per
// process from $WEBTEST_RUNNER_HOME, then the parent of a bin/ directory
// holding the binary, then the working directory.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = "."
		for _, candidate := range homeCandidates {
			if dir := candidate(); dir != "" {
				homeDir = dir
				break
			}
		}
	})
	return homeDir
}

// GetDataDir returns <home>/data.
func GetDataDir() string {
	return filepath.Join(GetHome(), "data")
}

// GetReportsDir returns <home>/reports.
func GetReportsDir() string {
	return filepath.Join(GetHome(), "reports")
}

func homeFromEnv() string {
	dir := os.Getenv(EnvHome)
	if dir == "" {
		return ""
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// homeFromBinary handles installs laid out as <home>/bin/webtest-runner.
func homeFromBinary() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	if bin := filepath.Dir(exe); filepath.Base(bin) == "bin" {
		return filepath.Dir(bin)
	}
	return ""
}

func homeFromCwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

// ResetHome clears the cached home directory. Tests use it after changing
// $WEBTEST_RUNNER_HOME.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
