package workflows

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/PolarWolf314/aclsync/internal/audit"
	"github.com/PolarWolf314/aclsync/internal/configs"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	logger "github.com/PolarWolf314/aclsync/internal/logging"
	"github.com/PolarWolf314/aclsync/internal/secrets"
	"github.com/PolarWolf314/aclsync/internal/store/filestore"
)

// InitOptions configures the init workflow.
type InitOptions struct {
	// ProjectPath is the directory to initialize. Empty means the working directory.
	ProjectPath string

	// ActorID is the acting user. Empty generates a new UUID.
	ActorID string

	// Driver and DSN select the store. Empty Driver means the file store.
	Driver string
	DSN    string

	// PrivateKeyPath overrides the default key location. A key is generated
	// there when none exists.
	PrivateKeyPath string

	// Passphrase is asked for a passphrase when an existing key is protected.
	Passphrase func() ([]byte, error)

	Logger logger.Logger
}

// InitResult contains the outcome of an init operation.
type InitResult struct {
	ProjectPath    string
	ActorID        string
	PrivateKeyPath string
	Fingerprint    string

	// KeyGenerated is set when a new key pair was created.
	KeyGenerated bool
}

// Init creates the .aclsync directory, writes config.toml, prepares the store
// and registers the actor's public key.
//
// Returns ErrProjectAlreadyInitialized if the directory already exists.
// Returns ErrInvalidConfig if the options produce an unusable configuration.
func Init(ctx context.Context, opts InitOptions) (result *InitResult, err error) {
	projectPath := opts.ProjectPath
	if projectPath == "" {
		if projectPath, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	if projectPath, err = filepath.Abs(projectPath); err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	settings := configs.NewProjectSettings(projectPath)
	if _, err := os.Stat(settings.StatePath); err == nil {
		return nil, kerrors.ErrProjectAlreadyInitialized
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to check %s: %w", settings.StatePath, err)
	}

	cfg := configs.Default()
	cfg.Actor.UserID = opts.ActorID
	if cfg.Actor.UserID == "" {
		cfg.Actor.UserID = uuid.NewString()
	}
	cfg.Actor.PrivateKeyPath = opts.PrivateKeyPath
	if opts.Driver != "" {
		cfg.Store.Driver = opts.Driver
	}
	cfg.Store.DSN = opts.DSN
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, generated, err := actorKey(cfg, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	pubPEM, err := secrets.MarshalPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	fingerprint, err := secrets.Fingerprint(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			_ = os.RemoveAll(settings.StatePath)
		}
	}()

	store, err := createStore(ctx, settings, cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore(store)

	if err := configs.Save(settings.ConfigPath, cfg); err != nil {
		return nil, err
	}
	if err := store.PutPublicKey(ctx, cfg.Actor.UserID, pubPEM); err != nil {
		return nil, err
	}
	opts.Logger.Infof("Initialized %s store at %s", cfg.Store.Driver, settings.StatePath)

	configs.ProjectAclsyncSettings = settings
	audit.SetEnabled(cfg.Audit.Enabled)
	audit.Log(audit.LogWithActor("init", cfg.Actor.UserID))

	return &InitResult{
		ProjectPath:    projectPath,
		ActorID:        cfg.Actor.UserID,
		PrivateKeyPath: cfg.PrivateKeyPath(),
		Fingerprint:    fingerprint,
		KeyGenerated:   generated,
	}, nil
}

// actorKey loads the actor's private key, generating one when the file is missing.
func actorKey(cfg *configs.Config, passphrase func() ([]byte, error)) (*rsa.PrivateKey, bool, error) {
	path := cfg.PrivateKeyPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		key, err := secrets.GenerateKeyPair(path, cfg.Engine.MinKeyBits)
		if err != nil {
			return nil, false, err
		}
		return key, true, nil
	}
	key, err := secrets.NewKeyFileDecrypter(path, passphrase).PrivateKey()
	if err != nil {
		return nil, false, err
	}
	return key, false, nil
}

func createStore(ctx context.Context, settings *configs.ProjectSettings, cfg *configs.Config) (Store, error) {
	if cfg.Store.Driver != configs.DriverPostgres {
		s, err := filestore.Create(settings.StatePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := os.MkdirAll(settings.StatePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", settings.StatePath, err)
	}
	s, err := openPostgres(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
