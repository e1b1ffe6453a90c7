// Package command provides CLI command definitions for fabrictl.
package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	clicfg "github.com/relaymesh/fabric/internal/cli/config"
)

// ConfigCommand returns the config subcommand group: fabrictl's own
// local configuration (~/.relaymesh/cli.yaml), not the node's config —
// those keys are structural, loaded by fabricd itself, and are not
// exposed for remote mutation over the RPC fabric.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "fabrictl local configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show fabrictl configuration",
				Action: configShow,
			},
			{
				Name:   "validate",
				Usage:  "Validate fabrictl configuration",
				Action: configValidate,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg, err := clicfg.Load("")
	if err != nil {
		return err
	}
	fmt.Printf("Config file: %s\n\n", clicfg.DefaultConfigPath())
	fmt.Printf("default_server: %s\n", cfg.DefaultServer)
	fmt.Printf("default_output: %s\n", cfg.DefaultOutput)
	fmt.Printf("current_connection: %s\n", cfg.CurrentConnection)
	fmt.Printf("connections: %d saved\n", len(cfg.Connections))
	return nil
}

func configValidate(c *cli.Context) error {
	if _, err := clicfg.Load(""); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Printf("configuration is valid: %s\n", clicfg.DefaultConfigPath())
	return nil
}
