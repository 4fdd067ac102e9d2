package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"brainlink/pkg/config"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to --config",
		Long: `Write a config file with every default filled in. The format follows the
file extension: .yaml or .yml for YAML, anything else for TOML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			cfg := config.Default()
			if err := cfg.Save(path); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, exists, err := config.LoadOrDefault(a.configPath)
			if err != nil {
				return err
			}
			if !exists {
				cmd.Printf("%s not found, defaults apply\n", a.configPath)
				return nil
			}
			cmd.Printf("%s ok: device %s at %s, %d field hints\n",
				cfg.ConfigPath(), cfg.Device.Name, cfg.Device.Addr, len(cfg.Decoder.Hints))
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
