package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "jobboard",
		Short:        "Job board sync backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newAdminTokenCommand(),
		newPostJobCommand(),
		newAnnounceCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("project-id", defaults.GetString("store.project_id"), "Document store project id")
	cmd.PersistentFlags().String("cache-driver", defaults.GetString("cache.driver"), "Local cache backend (sqlite, redis, memory)")
	cmd.PersistentFlags().String("cache-redis-url", "", "Redis URL for the redis cache driver")
	cmd.PersistentFlags().String("cache-namespace", defaults.GetString("cache.namespace"), "Local cache namespace of this board instance")
	cmd.PersistentFlags().String("admin-signing-secret", "", "Admin token signing secret (overrides env)")
	cmd.PersistentFlags().Int("admin-token-ttl-minutes", defaults.GetInt("admin.token_ttl_minutes"), "Admin token TTL in minutes")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "store.project_id", "project-id")
	bindFlag(cmd, "cache.driver", "cache-driver")
	bindFlag(cmd, "cache.redis_url", "cache-redis-url")
	bindFlag(cmd, "cache.namespace", "cache-namespace")
	bindFlag(cmd, "admin.signing_secret", "admin-signing-secret")
	bindFlag(cmd, "admin.token_ttl_minutes", "admin-token-ttl-minutes")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
