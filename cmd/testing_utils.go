// Package cmd contains testing utilities shared between command tests.
// This file provides common functions for setting up test environments,
// capturing output and running the CLI.
package cmd

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PolarWolf314/aclsync/internal/audit"
	"github.com/PolarWolf314/aclsync/internal/configs"
	logger "github.com/PolarWolf314/aclsync/internal/logging"
)

// setupTestEnvironment moves into a fresh project directory and points the
// user settings at a temporary directory.
func setupTestEnvironment(t *testing.T) (projectDir, userDir string) {
	t.Helper()
	projectDir = t.TempDir()
	userDir = t.TempDir()

	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	originalUserSettings := configs.UserAclsyncSettings
	originalProjectSettings := configs.ProjectAclsyncSettings

	if err := os.Chdir(projectDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("Failed to change to original directory: %v", err)
		}
		configs.UserAclsyncSettings = originalUserSettings
		configs.ProjectAclsyncSettings = originalProjectSettings
		audit.SetEnabled(true)
		ResetGlobalState()
	})

	configs.UserAclsyncSettings = &configs.UserSettings{
		UserKeysPath:    filepath.Join(userDir, "keys"),
		UserConfigsPath: filepath.Join(userDir, "config"),
		Username:        "testuser",
	}
	ResetGlobalState()
	return projectDir, userDir
}

// captureOutput captures both stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	stdoutReader, stdoutWriter, _ := os.Pipe()
	stderrReader, stderrWriter, _ := os.Pipe()

	os.Stdout = stdoutWriter
	os.Stderr = stderrWriter

	outputChan := make(chan string, 2)

	go func() {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, stdoutReader); err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}()

	go func() {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, stderrReader); err != nil {
			log.Fatalf("Failed to run copy command: %s", err)
		}
		outputChan <- buf.String()
	}()

	err := fn()

	stdoutWriter.Close()
	stderrWriter.Close()

	os.Stdout = originalStdout
	os.Stderr = originalStderr

	stdout := <-outputChan
	stderr := <-outputChan

	return stdout + stderr, err
}

// runCLI executes the root command with args and returns everything printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ResetGlobalState()
	Logger = logger.Logger{}
	return captureOutput(func() error {
		RootCmd.SetArgs(args)
		return RootCmd.Execute()
	})
}

// jsonPayload strips anything printed before the JSON document.
func jsonPayload(t *testing.T, output string) []byte {
	t.Helper()
	start := strings.IndexAny(output, "[{")
	if start < 0 {
		t.Fatalf("no JSON in output:\n%s", output)
	}
	return []byte(output[start:])
}

// verifyProjectStructure verifies that init created the project layout.
func verifyProjectStructure(t *testing.T, projectDir string) {
	t.Helper()
	stateDir := filepath.Join(projectDir, configs.StateDirName)
	for _, p := range []string{stateDir, filepath.Join(stateDir, "config.toml")} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			t.Errorf("%s was not created", p)
		}
	}
}
