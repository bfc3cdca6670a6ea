package configs

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/aclsync/internal/utils"
)

// StateDirName is the per-project directory holding config, data and audit log.
const StateDirName = ".aclsync"

type UserSettings struct {
	UserKeysPath    string
	UserConfigsPath string
	Username        string
}

type ProjectSettings struct {
	ProjectName  string
	ProjectPath  string
	StatePath    string
	ConfigPath   string
	AuditLogPath string
}

var (
	UserAclsyncSettings    *UserSettings
	ProjectAclsyncSettings *ProjectSettings
)

func init() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("error getting home directory: %s", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("error getting config directory: %s", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	username, err := utils.GetUsername()
	if err != nil {
		log.Fatalf("error getting username: %s", err)
	}

	// This is independent of what repo you are in, so it is ok to init here
	UserAclsyncSettings = &UserSettings{
		UserKeysPath:    filepath.Join(dataDir, "aclsync", "keys"),
		UserConfigsPath: filepath.Join(configDir, "aclsync"),
		Username:        username,
	}
	ProjectAclsyncSettings = &ProjectSettings{}
}

// InitProjectSettings locates the project root from the working directory.
// ProjectPath stays empty when no .aclsync directory is found.
func InitProjectSettings() error {
	projectPath, err := utils.FindProjectRoot(StateDirName)
	if err != nil {
		return fmt.Errorf("error getting project root: %w", err)
	}
	ProjectAclsyncSettings = NewProjectSettings(projectPath)
	return nil
}

// NewProjectSettings derives the project paths for a root directory.
func NewProjectSettings(projectPath string) *ProjectSettings {
	if projectPath == "" {
		return &ProjectSettings{}
	}
	state := filepath.Join(projectPath, StateDirName)
	return &ProjectSettings{
		ProjectName:  filepath.Base(projectPath),
		ProjectPath:  projectPath,
		StatePath:    state,
		ConfigPath:   filepath.Join(state, "config.toml"),
		AuditLogPath: filepath.Join(state, "audit.jsonl"),
	}
}
