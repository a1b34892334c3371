/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	// Build the binary before running tests
	wd := mustGetwd()
	cmd := exec.Command("go", "build", "-o", "fardel_test", ".")
	cmd.Dir = wd
	if out, err := cmd.CombinedOutput(); err != nil {
		panic("failed to build test binary: " + err.Error() + "\n" + string(out))
	}
	code := m.Run()
	_ = os.Remove(filepath.Join(wd, "fardel_test"))
	os.Exit(code)
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return wd
}

func runCLI(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	binary := filepath.Join(mustGetwd(), "fardel_test")
	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), "NO_COLOR=1")

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("Failed to run CLI: %v", err)
		}
	}

	return stdout, stderr, exitCode
}

// writeProject creates a project directory from a map of relative paths to
// contents.
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func simpleProject(t *testing.T) string {
	return writeProject(t, map[string]string{
		"fardel.yaml": "entry:\n  main: ./src/main.js\n",
		"src/main.js": "import { greet } from './greet.js';\ngreet();\nimport('./lazy.js');\n",
		"src/greet.js": "export function greet() { console.log('hi'); }\n",
		"src/lazy.js": "export default 42;\n",
	})
}

func TestBuild(t *testing.T) {
	dir := simpleProject(t)

	stdout, stderr, code := runCLI(t, "build", "-C", dir)
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}

	for _, s := range []string{"compiled in", "main.js", "1.chunk.js", "3 modules"} {
		if !strings.Contains(stdout, s) {
			t.Errorf("Expected %q in build output, got:\n%s", s, stdout)
		}
	}
	for _, name := range []string{"main.js", "1.chunk.js"} {
		if _, err := os.Stat(filepath.Join(dir, "dist", name)); err != nil {
			t.Errorf("Expected dist/%s to be written: %v", name, err)
		}
	}
}

func TestBuildArgEntriesAndOutput(t *testing.T) {
	dir := simpleProject(t)

	stdout, stderr, code := runCLI(t, "build", "-C", dir, "-o", "public", "app=./src/greet.js")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "app.js") {
		t.Errorf("Expected app.js in build output, got:\n%s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, "public", "app.js")); err != nil {
		t.Errorf("Expected public/app.js to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "public", "main.js")); err == nil {
		t.Error("Expected configured entries to be replaced by arguments")
	}
}

func TestBuildWithErrors(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"fardel.json": `{"entry": {"main": "./main.js"}}`,
		"main.js":     "import './missing.js';\n",
	})

	stdout, _, code := runCLI(t, "build", "-C", dir)
	if code == 0 {
		t.Error("Expected non-zero exit code for a compilation with errors")
	}
	if !strings.Contains(stdout, "compiled with errors") {
		t.Errorf("Expected 'compiled with errors', got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "missing.js") {
		t.Errorf("Expected the unresolved request in the report, got:\n%s", stdout)
	}
}

func TestBuildWithoutEntries(t *testing.T) {
	_, stderr, code := runCLI(t, "build", "-C", t.TempDir())
	if code == 0 {
		t.Error("Expected non-zero exit code without entries")
	}
	if !strings.Contains(stderr, "no entries configured") {
		t.Errorf("Expected 'no entries configured' error, got: %s", stderr)
	}
}

func TestCacheInfoAndClean(t *testing.T) {
	dir := simpleProject(t)

	if _, stderr, code := runCLI(t, "build", "-C", dir, "--cache", "persistent"); code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}

	stdout, stderr, code := runCLI(t, "cache", "info", "-C", dir, "--cache", "persistent")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "items") || !strings.Contains(stdout, "total") {
		t.Errorf("Expected scope lines in cache info, got:\n%s", stdout)
	}

	// A second build is served from the persistent cache
	stdout, stderr, code = runCLI(t, "build", "-C", dir, "--cache", "persistent")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "0 built") {
		t.Errorf("Expected no modules to be rebuilt, got:\n%s", stdout)
	}

	stdout, stderr, code = runCLI(t, "cache", "clean", "-C", dir, "--all")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d\nstderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "removed") {
		t.Errorf("Expected 'removed' in clean output, got:\n%s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, "node_modules", ".cache", "fardel")); !os.IsNotExist(err) {
		t.Errorf("Expected cache directory to be removed, got: %v", err)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, code := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	if !strings.HasPrefix(stdout, "fardel ") {
		t.Errorf("Expected 'fardel <version>', got: %s", stdout)
	}
	if !strings.Contains(stdout, "cache version: fardel-") {
		t.Errorf("Expected the cache version, got: %s", stdout)
	}

	stdout, _, code = runCLI(t, "version", "-f", "json")
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d", code)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}
	for _, key := range []string{"version", "goVersion", "platform", "cacheVersion"} {
		if info[key] == nil {
			t.Errorf("Expected %q in version output", key)
		}
	}
}

func TestHelp(t *testing.T) {
	stdout, _, code := runCLI(t, "--help")
	if code != 0 {
		t.Fatalf("Expected exit code 0 for help, got %d", code)
	}

	expectedStrings := []string{
		"fardel",
		"build",
		"watch",
		"cache",
		"--context",
		"--config",
	}

	for _, s := range expectedStrings {
		if !strings.Contains(stdout, s) {
			t.Errorf("Expected %q in help output", s)
		}
	}
}

func TestWatchHelp(t *testing.T) {
	stdout, _, code := runCLI(t, "watch", "--help")
	if code != 0 {
		t.Fatalf("Expected exit code 0 for help, got %d", code)
	}

	for _, s := range []string{"--debounce", "--ignore", "--no-gitignore"} {
		if !strings.Contains(stdout, s) {
			t.Errorf("Expected %q in watch help output", s)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, stderr, code := runCLI(t, "unknown")
	if code == 0 {
		t.Error("Expected non-zero exit code for unknown command")
	}

	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("Expected 'unknown command' error, got: %s", stderr)
	}
}
