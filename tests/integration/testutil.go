// Package integration provides end-to-end tests that drive the cupboard
// binary.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

var (
	// cupboardBin is the path to the built cupboard binary.
	cupboardBin string
	// buildErr captures any build error.
	buildErr error
)

// BuildError wraps a build error with output.
type BuildError struct {
	Err    error
	Output string
}

func (e *BuildError) Error() string {
	return e.Err.Error() + ": " + e.Output
}

// FindProjectRoot walks up from the working directory to the directory
// holding go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// SetCupboardBin sets the path to the cupboard binary (called from TestMain).
func SetCupboardBin(path string) {
	cupboardBin = path
}

// SetBuildErr sets the build error (called from TestMain).
func SetBuildErr(err error) {
	buildErr = err
}

// Authority is the content authority every TestEnv config declares.
const Authority = "it.cupboard"

// DefaultConfig declares two kinds used across the integration suites.
const DefaultConfig = `backend: sqlite
authority: ` + Authority + `
log_level: error
kinds:
  - name: Cheese
    path: cheese
    columns:
      - {name: name, type: TEXT, index: true}
      - {name: age, type: INTEGER}
      - {name: weight, type: REAL}
      - {name: tags, type: JSON}
  - name: Plateau
    path: plateau
    columns:
      - {name: label, type: TEXT}
`

// TestEnv provides an isolated config and data directory.
type TestEnv struct {
	t       *testing.T
	TempDir string
	Config  string
	DataDir string
	Env     []string
}

// NewTestEnv creates an environment whose config.yaml holds config. An empty
// config leaves the config directory absent so the CLI writes its default.
func NewTestEnv(t *testing.T, config string) *TestEnv {
	t.Helper()

	if buildErr != nil {
		t.Fatalf("failed to build cupboard: %v", buildErr)
	}
	if cupboardBin == "" {
		t.Fatal("cupboard binary not built (cupboardBin is empty)")
	}

	tempDir := t.TempDir()
	e := &TestEnv{
		t:       t,
		TempDir: tempDir,
		Config:  filepath.Join(tempDir, "config"),
		DataDir: filepath.Join(tempDir, "data"),
	}
	if config != "" {
		if err := os.MkdirAll(e.Config, 0o755); err != nil {
			t.Fatalf("failed to create config dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(e.Config, "config.yaml"), []byte(config), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
	}
	return e
}

// CmdResult holds the result of a cupboard command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RunCupboard executes the cupboard CLI with the environment's directories.
func (e *TestEnv) RunCupboard(args ...string) CmdResult {
	e.t.Helper()
	all := append([]string{"--config-dir", e.Config, "--data-dir", e.DataDir}, args...)
	return e.RunRaw(all...)
}

// RunRaw executes the cupboard CLI with exactly args and e.Env appended to
// the process environment.
func (e *TestEnv) RunRaw(args ...string) CmdResult {
	e.t.Helper()
	cmd := exec.Command(cupboardBin, args...)
	cmd.Dir = e.TempDir
	cmd.Env = append(os.Environ(), e.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			e.t.Fatalf("failed to run cupboard: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return CmdResult{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}
}

// MustRunCupboard executes the cupboard CLI and fails the test if it returns non-zero.
func (e *TestEnv) MustRunCupboard(args ...string) CmdResult {
	e.t.Helper()
	result := e.RunCupboard(args...)
	if result.ExitCode != 0 {
		e.t.Fatalf("cupboard %v failed with exit code %d:\nstdout: %s\nstderr: %s",
			args, result.ExitCode, result.Stdout, result.Stderr)
	}
	return result
}

// URI returns the content identifier of path under Authority.
func URI(path string) string {
	return "content://" + Authority + "/" + path
}

// ParseJSON parses JSON output into the target type.
func ParseJSON[T any](t *testing.T, jsonStr string) T {
	t.Helper()
	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", jsonStr, err)
	}
	return result
}

// Row is one record of `query --json` output.
type Row map[string]any

// ReadJSONLFile reads a JSONL file (one JSON object per line) and returns a slice.
func ReadJSONLFile[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open JSONL file %s: %v", path, err)
	}
	defer f.Close()

	var results []T
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			t.Fatalf("failed to parse JSONL line in %s: %v", path, err)
		}
		results = append(results, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("failed to scan JSONL file %s: %v", path, err)
	}
	return results
}
