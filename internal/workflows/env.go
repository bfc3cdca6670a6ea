package workflows

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/audit"
	"github.com/PolarWolf314/aclsync/internal/configs"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/groups"
	logger "github.com/PolarWolf314/aclsync/internal/logging"
	"github.com/PolarWolf314/aclsync/internal/orchestrator"
	"github.com/PolarWolf314/aclsync/internal/secrets"
	"github.com/PolarWolf314/aclsync/internal/store/filestore"
	"github.com/PolarWolf314/aclsync/internal/store/pg"
	"github.com/PolarWolf314/aclsync/internal/validator"
)

// Store is everything the workflows need from a storage driver. Both
// *filestore.Store and *pg.Store implement it.
type Store interface {
	orchestrator.Store
	groups.Directory
	secrets.KeyDirectory

	PutResource(ctx context.Context, res acl.Resource, perms acl.Collection) error
	PutFolder(ctx context.Context, id, name string, perms acl.Collection) error
	PutGroup(ctx context.Context, id, name string, members []string) error
	PutPublicKey(ctx context.Context, userID string, pemData []byte) error
	RevokeKey(ctx context.Context, userID string) error
}

// EnvOptions configures how a project environment is opened.
type EnvOptions struct {
	// ProjectPath is the project root. Empty means search upwards from the
	// working directory.
	ProjectPath string

	Logger logger.Logger

	// Progress receives every resource state transition.
	Progress func(resourceID string, state orchestrator.State)

	// PrivateKey holds the actor's private key when it was not read from the
	// configured path, e.g. piped on stdin.
	PrivateKey []byte

	// Passphrase is asked for a passphrase when the private key is protected.
	Passphrase func() ([]byte, error)
}

// Env is an opened project: its config and the collaborators wired from it.
type Env struct {
	Settings *configs.ProjectSettings
	Config   *configs.Config
	Store    Store
	Resolver *groups.Resolver
	Engine   *orchestrator.Engine
	Checker  *validator.Validator
	Crypto   *secrets.Reencryptor
	Logger   logger.Logger
}

// OpenEnv loads the project configuration and wires the engine.
//
// Returns ErrProjectNotInitialized if no .aclsync directory is found.
// Returns ErrInvalidConfig if the configuration cannot be used.
func OpenEnv(ctx context.Context, opts EnvOptions) (*Env, error) {
	settings, err := projectSettings(opts.ProjectPath)
	if err != nil {
		return nil, err
	}

	cfg, err := configs.Load(settings.ConfigPath)
	if err != nil {
		return nil, err
	}
	audit.SetEnabled(cfg.Audit.Enabled)

	store, err := openStore(ctx, settings, cfg)
	if err != nil {
		return nil, err
	}

	resolver, err := groups.NewResolver(store, groups.ResolverOptions{
		Concurrency: cfg.Engine.FanOut,
		Logger:      opts.Logger,
	})
	if err != nil {
		closeStore(store)
		return nil, err
	}

	var dec *secrets.LockedKeyDecrypter
	if opts.PrivateKey != nil {
		dec = secrets.NewLockedKeyDecrypter(opts.PrivateKey, opts.Passphrase)
	} else {
		dec = secrets.NewKeyFileDecrypter(cfg.PrivateKeyPath(), opts.Passphrase)
	}

	enc := secrets.NewReencryptor(store, dec, secrets.ReencryptOptions{
		Policy: secrets.KeyPolicy{
			AllowedAlgorithms: cfg.Engine.AllowedAlgorithms,
			MinBits:           cfg.Engine.MinKeyBits,
		},
		Logger: opts.Logger,
	})
	checker := validator.New(store, resolver)
	engine := orchestrator.New(store, resolver, enc, checker, cfg.Actor.UserID, orchestrator.Options{
		FanOut:         cfg.Engine.FanOut,
		Logger:         opts.Logger,
		Progress:       opts.Progress,
		SkipValidation: !cfg.Engine.ValidateAfterPersist,
	})

	opts.Logger.Debugf("Opened %s store for project %s as %s", cfg.Store.Driver, settings.ProjectName, cfg.Actor.UserID)
	return &Env{
		Settings: settings,
		Config:   cfg,
		Store:    store,
		Resolver: resolver,
		Engine:   engine,
		Checker:  checker,
		Crypto:   enc,
		Logger:   opts.Logger,
	}, nil
}

// ActorID is the configured acting user.
func (e *Env) ActorID() string {
	return e.Config.Actor.UserID
}

// Close releases the resolver cache and the store connection.
func (e *Env) Close() {
	e.Resolver.Close()
	closeStore(e.Store)
}

func projectSettings(projectPath string) (*configs.ProjectSettings, error) {
	if projectPath != "" {
		if _, err := os.Stat(filepath.Join(projectPath, configs.StateDirName)); err != nil {
			return nil, kerrors.ErrProjectNotInitialized
		}
		configs.ProjectAclsyncSettings = configs.NewProjectSettings(projectPath)
	} else if err := configs.InitProjectSettings(); err != nil {
		return nil, fmt.Errorf("initializing project settings: %w", err)
	}

	settings := configs.ProjectAclsyncSettings
	if settings.ProjectPath == "" {
		return nil, kerrors.ErrProjectNotInitialized
	}
	return settings, nil
}

func openStore(ctx context.Context, settings *configs.ProjectSettings, cfg *configs.Config) (Store, error) {
	switch cfg.Store.Driver {
	case configs.DriverPostgres:
		s, err := openPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := filestore.Open(settings.StatePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func openPostgres(ctx context.Context, dsn string) (*pg.Store, error) {
	s, err := pg.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func closeStore(s Store) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}
