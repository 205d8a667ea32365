package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"nimbus/internal/platform/config"
	"nimbus/internal/platform/logger"
)

// app carries the resolved configuration to subcommands.
type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger

	// flag values, applied over the loaded config only when set
	backend, storagePath, postgresDSN, redisURL       string
	serverURL, collection, bucket, unit               string
	appID, appVersion, localeLanguage, localeCountry  string
	deviceManufacturer, deviceModel, region, debugTag string
	logLevel, logFormat                               string
	ratioWeighting, resetOnCorrupt                    bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "nimbus",
		Short:         "Deterministic client-side experiment enrollment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML config file")
	f.StringVar(&a.backend, "backend", "", "storage backend: sqlite, postgres, redis or memory")
	f.StringVar(&a.storagePath, "storage", "", "storage directory for the sqlite backend")
	f.StringVar(&a.postgresDSN, "postgres-dsn", "", "postgres connection string")
	f.StringVar(&a.redisURL, "redis-url", "", "redis URL")
	f.StringVar(&a.serverURL, "server-url", "", "catalog base URL")
	f.StringVar(&a.collection, "collection", "", "catalog collection name")
	f.StringVar(&a.bucket, "bucket", "", "catalog bucket name")
	f.StringVar(&a.unit, "uuid", "", "randomization unit override")
	f.StringVar(&a.appID, "app-id", "", "application id")
	f.StringVar(&a.appVersion, "app-version", "", "application version")
	f.StringVar(&a.localeLanguage, "locale-language", "", "locale language")
	f.StringVar(&a.localeCountry, "locale-country", "", "locale country")
	f.StringVar(&a.deviceManufacturer, "device-manufacturer", "", "device manufacturer")
	f.StringVar(&a.deviceModel, "device-model", "", "device model")
	f.StringVar(&a.region, "region", "", "region")
	f.StringVar(&a.debugTag, "debug-tag", "", "debug tag")
	f.StringVar(&a.logLevel, "log-level", "", "log level")
	f.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	f.BoolVar(&a.ratioWeighting, "ratio-weighting", false, "draw branches by ratio")
	f.BoolVar(&a.resetOnCorrupt, "reset-on-corrupt", false, "re-enroll when persisted state is unreadable")

	root.AddCommand(
		newShowCmd(a),
		newBranchCmd(a),
		newResetCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	overrides := map[string]struct {
		src string
		dst *string
	}{
		"backend":             {a.backend, &cfg.Storage.Backend},
		"storage":             {a.storagePath, &cfg.Storage.Path},
		"postgres-dsn":        {a.postgresDSN, &cfg.Storage.PostgresDSN},
		"redis-url":           {a.redisURL, &cfg.Storage.Redis.URL},
		"server-url":          {a.serverURL, &cfg.Catalog.ServerURL},
		"collection":          {a.collection, &cfg.Catalog.CollectionName},
		"bucket":              {a.bucket, &cfg.Catalog.BucketName},
		"uuid":                {a.unit, &cfg.RandomizationUnit},
		"app-id":              {a.appID, &cfg.App.AppID},
		"app-version":         {a.appVersion, &cfg.App.AppVersion},
		"locale-language":     {a.localeLanguage, &cfg.App.LocaleLanguage},
		"locale-country":      {a.localeCountry, &cfg.App.LocaleCountry},
		"device-manufacturer": {a.deviceManufacturer, &cfg.App.DeviceManufacturer},
		"device-model":        {a.deviceModel, &cfg.App.DeviceModel},
		"region":              {a.region, &cfg.App.Region},
		"debug-tag":           {a.debugTag, &cfg.App.DebugTag},
		"log-level":           {a.logLevel, &cfg.Log.Level},
		"log-format":          {a.logFormat, &cfg.Log.Format},
	}
	for name, o := range overrides {
		if flags.Changed(name) {
			*o.dst = o.src
		}
	}
	if flags.Changed("ratio-weighting") {
		cfg.RatioWeighting = a.ratioWeighting
	}
	if flags.Changed("reset-on-corrupt") {
		cfg.ResetOnCorrupt = a.resetOnCorrupt
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return nil
}
