package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"evcal/internal/cache"
	"evcal/internal/calendar"
	"evcal/internal/config"
	appLog "evcal/internal/log"
	"evcal/internal/occurrence"
	"evcal/internal/store"
)

// deps is everything built from a Config.
type deps struct {
	cfg       *config.Config
	store     *store.Memory
	favorites *store.MemoryFavorites
	cache     *cache.MemoryCache
	svc       *calendar.Service
}

func build(ctx context.Context, cfg *config.Config) (*deps, error) {
	versions, err := newVersionStore(ctx, cfg.Versions)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	d := &deps{
		cfg:       cfg,
		store:     store.NewMemory(),
		favorites: store.NewMemoryFavorites(),
		cache:     cache.NewMemoryCache(cfg.Cache.MaxItems, cfg.Cache.TTL),
	}
	d.svc = calendar.NewService(calendar.Options{
		Store:     d.store,
		Favorites: d.favorites,
		Expander: occurrence.NewExpander(occurrence.Config{
			DefaultLocation:        loc,
			MaxOccurrencesPerEvent: cfg.MaxOccurrencesPerEvent,
		}),
		Cache:    cache.NewVersioned(d.cache, versions, cache.ContentTypeEvent, cfg.Cache.TTL),
		Metrics:  calendar.NewMetrics("evcal"),
		Location: loc,
	})
	d.store.OnChange(d.svc.Invalidate)

	if cfg.SeedFile != "" {
		n, err := d.store.LoadFile(ctx, cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("load seed file: %w", err)
		}
		appLog.Info("seed events loaded", "path", cfg.SeedFile, "count", n)
	}
	return d, nil
}

func newVersionStore(ctx context.Context, vc config.VersionsConfig) (cache.VersionStore, error) {
	if vc.Backend != "dynamodb" {
		return cache.NewMemoryVersions(), nil
	}
	if vc.DynamoTable == "" {
		return nil, fmt.Errorf("versions backend dynamodb requires dynamodb_table")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if vc.Region != "" {
		opts = append(opts, awsconfig.WithRegion(vc.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	appLog.Info("using dynamodb version store", "table", vc.DynamoTable, "region", awsCfg.Region)
	return cache.NewDynamoVersions(dynamodb.NewFromConfig(awsCfg), vc.DynamoTable), nil
}
