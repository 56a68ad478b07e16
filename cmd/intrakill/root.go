package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/TemirkhanN/intrakill/config"
	"github.com/TemirkhanN/intrakill/encryption"
	"github.com/TemirkhanN/intrakill/models"
	"github.com/TemirkhanN/intrakill/store"
	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// PasswordEnv environment variable holding the vault password
const PasswordEnv = "INTRAKILL_PASSWORD"

// app the state shared by every command
type app struct {
	out        io.Writer
	in         io.Reader
	viper      *viper.Viper
	configFile string
	cfg        config.AppConfig

	vault       store.MediaVault
	credentials encryption.CredentialEngine
}

func newApp(out io.Writer, in io.Reader) *app {
	return &app{out: out, in: in, viper: viper.New()}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "intrakill",
		Short:         "Encrypted media vault",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.BindFlags(a.viper, cmd.Flags()); err != nil {
				return err
			}
			return a.setup(cmd.Context())
		},
	}
	cmd.Version = "0.1.0"

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (TOML or YAML)")
	cmd.PersistentFlags().String("db", "", "vault DB file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newAddCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newExtractCmd(a),
		newDeleteCmd(a),
		newTagsCmd(a),
		newEventsCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)

	return cmd
}

// setup load the config and build the vault
func (a *app) setup(_ context.Context) error {
	cfg, err := config.Load(a.viper, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level [%w]", err)
	}
	log.SetLevel(level)

	if err := os.MkdirAll(filepath.Dir(cfg.Vault.DBFile), 0o700); err != nil {
		return fmt.Errorf("failed to prepare vault directory [%w]", err)
	}

	if a.vault, err = store.NewMediaVault(store.MediaVaultParams{
		DBFile:      cfg.Vault.DBFile,
		TempDir:     cfg.Vault.TempDir,
		SQLLogLevel: cfg.Vault.GormLogLevel(),
	}); err != nil {
		return err
	}

	a.credentials, err = encryption.NewCredentialEngine(
		context.Background(), encryption.CredentialEngineParams{},
	)
	return err
}

/*
withVault run logic against the unlocked vault. The vault is closed afterwards.

	@param ctx context.Context - execution context
	@param coreLogic func(vault store.MediaVault) error - the logic
*/
func (a *app) withVault(ctx context.Context, coreLogic func(vault store.MediaVault) error) error {
	password, err := a.password("Vault password: ")
	if err != nil {
		return err
	}
	if err := a.vault.Open(ctx, password); err != nil {
		return err
	}
	defer func() {
		if err := a.vault.Close(); err != nil {
			log.WithError(err).Error("Failed to close vault")
		}
	}()
	return coreLogic(a.vault)
}

// report print the violations of a rejected input, or pass the error on
func (a *app) report(err error) error {
	var violations *models.ViolationError
	if errors.As(err, &violations) {
		for _, msg := range violations.Violations {
			fmt.Fprintf(a.out, "  - %s\n", msg)
		}
	}
	return err
}
