package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/kayz/dotprompt/internal/audit"
	"github.com/kayz/dotprompt/internal/config"
	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/modelconfig"
	"github.com/kayz/dotprompt/internal/prompt"
	"github.com/kayz/dotprompt/internal/store"
	"github.com/kayz/dotprompt/internal/store/dir"
	"github.com/kayz/dotprompt/internal/store/dynamo"
	"github.com/kayz/dotprompt/internal/store/sqlite"
)

// backend is what every store implementation provides.
type backend interface {
	store.Writer
	store.SchemaWriter
}

// app holds the components built from the config for one command run.
type app struct {
	cfg      *config.Config
	store    backend
	history  *sqlite.Store // nil unless the store is sqlite
	renderer *prompt.Renderer
	audit    *audit.Log
	closers  []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			logger.Warn("close: %v", err)
		}
	}
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	st, err := openStore(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st

	models, err := loadModelConfigs(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.renderer = prompt.New(prompt.Options{
		DefaultModel:    cfg.DefaultModel,
		ModelConfigs:    models,
		PartialResolver: store.PartialResolver(st),
		SchemaResolver:  store.SchemaResolver(st),
		LenientSchemas:  cfg.LenientSchemas,
	})
	a.audit = audit.New(audit.Config{
		Enabled:       cfg.Audit.Enabled,
		Dir:           cfg.Audit.Dir,
		FilePrefix:    cfg.Audit.FilePrefix,
		RetentionDays: cfg.Audit.RetentionDays,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, a *app) (backend, error) {
	switch cfg.Store.Type {
	case "", "dir":
		return dir.New(cfg.Store.Dir)
	case "sqlite":
		s, err := sqlite.Open(cfg.Store.SQLite)
		if err != nil {
			return nil, err
		}
		a.history = s
		a.closers = append(a.closers, s)
		return s, nil
	case "dynamodb":
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return dynamo.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Store.Table)
	default:
		return nil, fmt.Errorf("unknown store type %q (want dir, sqlite or dynamodb)", cfg.Store.Type)
	}
}

func loadModelConfigs(ctx context.Context, cfg *config.Config) (modelconfig.Configs, error) {
	var src modelconfig.Source
	switch {
	case cfg.Models.File != "":
		src = modelconfig.File{Path: cfg.Models.File}
	case cfg.Models.Parameter != "":
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p, err := modelconfig.NewParameter(awsssm.NewFromConfig(awsCfg), cfg.Models.Parameter)
		if err != nil {
			return nil, err
		}
		src = p
	default:
		return nil, nil
	}
	models, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded defaults for %d models", len(models))
	return models, nil
}

func loadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awsCfg, fmt.Errorf("load AWS config: %w", err)
	}
	return awsCfg, nil
}
