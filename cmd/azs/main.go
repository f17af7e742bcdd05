package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

// newBlobClient is replaced by tests.
var newBlobClient = func(cfg azs.AccountConfig) (azs.BlobClient, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("error creating Azure credential: %w", err)
	}
	return azs.NewClient(cfg, cred)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errorMessage(err))
		cancel()
		os.Exit(1)
	}
}

func errorMessage(err error) string {
	if azs.IsNotFound(err) {
		return "blob or container not found: " + err.Error()
	}
	return err.Error()
}

type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "azs",
		Short:         "Azure Storage blob CLI",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			return setupLogging(cmd.ErrOrStderr(), a.v.GetString("log_level"))
		},
	}

	flags := root.PersistentFlags()
	flags.SortFlags = false
	flags.String("account", "", "Storage account name or blob service URL. Default: [STORAGE_ACCOUNT]")
	flags.String("config", "", "Config file. Default: $HOME/.config/azs/config.yaml")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.Int("max-retries", azs.DefaultRetryConfig.MaxRetries, "Transport retries per request, 0 disables retries")

	root.AddCommand(newBlobCmd(a))
	return root
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	v := a.v

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "azs"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix("AZS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := cmd.Flags()
	for key, flag := range map[string]string{
		"account":     "account",
		"log_level":   "log-level",
		"max_retries": "max-retries",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	// STORAGE_ACCOUNT is kept for compatibility with other storage tools.
	return v.BindEnv("account", "AZS_ACCOUNT", "STORAGE_ACCOUNT")
}

func (a *app) accountConfig() azs.AccountConfig {
	retry := azs.DefaultRetryConfig
	retry.MaxRetries = a.v.GetInt("max_retries")
	return azs.AccountConfig{
		ServiceURL: a.v.GetString("account"),
		Retry:      retry,
	}
}

func (a *app) blob(container, name string) (azs.Blob, error) {
	cfg, err := a.accountConfig().Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: set --account or STORAGE_ACCOUNT", err)
	}
	client, err := newBlobClient(cfg)
	if err != nil {
		return nil, err
	}
	return client.Blob(container, name), nil
}
