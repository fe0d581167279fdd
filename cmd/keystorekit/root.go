package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sensiblebit/keystorekit/internal"
	"github.com/sensiblebit/keystorekit/internal/cipher"
	"github.com/sensiblebit/keystorekit/internal/keystore"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath    string
	logLevel      string
	logFormat     string
	dbPath        string
	masterKeyFile string

	cfg internal.Config
)

var rootCmd = &cobra.Command{
	Use:               "keystorekit",
	Short:             "Keystore entry management tool",
	Long:              "Store, rename, remove, and export certificate entries of encrypted Java keystores kept in SQLite, with a searchable index of their contents.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config YAML")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (default: keystorekit.db)")
	rootCmd.PersistentFlags().StringVar(&masterKeyFile, "master-key-file", "", "File containing the master key that seals container passwords")

	rootCmd.AddCommand(containersCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(reindexCmd)
}

// loadConfig layers explicitly set flags over the file and environment.
func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cmd.Flags(), &loaded)
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	internal.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	return nil
}

// applyFlagOverrides copies flags the user set on the command line into c.
// Flags left at their default do not mask file or environment values.
func applyFlagOverrides(flags *pflag.FlagSet, c *internal.Config) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			c.LogLevel = logLevel
		case "log-format":
			c.LogFormat = logFormat
		case "db":
			c.DBPath = dbPath
		case "master-key-file":
			c.MasterKeyFile = masterKeyFile
		}
	})
}

// openService opens the database and builds a Service around it. The
// returned func closes the database.
func openService() (*keystore.Service, func(), error) {
	secret, err := internal.ResolveMasterKey(cfg)
	if err != nil {
		return nil, nil, err
	}
	aead, err := cipher.NewAESCipher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing password cipher: %w", err)
	}
	db, err := internal.NewDB(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	svc, err := keystore.NewService(keystore.Config{
		Repository: keystore.NewSQLiteRepository(db.DB),
		Cipher:     aead,
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return svc, func() { _ = db.Close() }, nil
}

// outputFormat resolves "auto" to text on a terminal and JSON otherwise.
func outputFormat(format string) string {
	format = strings.ToLower(format)
	if format != "auto" {
		return format
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return "text"
	}
	return "json"
}
