// Package command provides CLI command definitions for fabrictl.
//
// It uses urfave/cli/v2 for command parsing and supports both
// single-command mode and interactive REPL mode.
package command

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/relaymesh/fabric/internal/cli/connection"
	"github.com/relaymesh/fabric/internal/infra/buildinfo"
	"github.com/relaymesh/fabric/internal/infra/tlsroots"
)

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:    "fabrictl",
		Usage:   "RelayMesh command-line management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ConnectCommand(),
			DisconnectCommand(),
			StatusCommand(),
			MembersCommand(),
			CallCommand(),
			ConfigCommand(),
		},
		Before: func(c *cli.Context) error {
			if _, ok := c.App.Metadata["connMgr"]; !ok {
				c.App.Metadata["connMgr"] = connection.NewManager()
			}
			return nil
		},
	}

	return app
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "fabricd node address (e.g., localhost:5080)",
			EnvVars: []string{"RELAYMESH_SERVER"},
			Value:   "localhost:5080",
		},
		&cli.StringFlag{
			Name:    "bearer-token",
			Aliases: []string{"t"},
			Usage:   "bearer token, for dispatchers running AuthBearerToken mode",
			EnvVars: []string{"RELAYMESH_BEARER_TOKEN"},
		},
		&cli.StringFlag{
			Name:  "client-cert",
			Usage: "client leaf certificate PEM path, for mTLS auth",
		},
		&cli.StringFlag{
			Name:  "client-key",
			Usage: "client leaf private key PEM path, for mTLS auth",
		},
		&cli.StringFlag{
			Name:  "ca-cert",
			Usage: "CA certificate PEM path used to verify the node",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server      string
	BearerToken string
	ClientCert  string
	ClientKey   string
	CACert      string

	Output string // table, json, yaml
	Wide   bool

	Verbose bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Server:      c.String("server"),
		BearerToken: c.String("bearer-token"),
		ClientCert:  c.String("client-cert"),
		ClientKey:   c.String("client-key"),
		CACert:      c.String("ca-cert"),
		Output:      c.String("output"),
		Wide:        c.Bool("wide"),
		Verbose:     c.Bool("verbose"),
	}
}

// GetConnectionManager retrieves the connection manager from context.
func GetConnectionManager(c *cli.Context) *connection.Manager {
	if mgr, ok := c.App.Metadata["connMgr"].(*connection.Manager); ok {
		return mgr
	}
	return nil
}

// EnsureConnected builds an HTTP client from the current flags. The
// /rpc and /internal/gossip endpoints run under mTLS; pass
// --client-cert/--client-key/--ca-cert to dial them, or leave them
// unset to talk to the bootstrap-only plain-HTTP endpoints
// (GET /internal/ca-cert, POST /internal/cert-request).
func EnsureConnected(c *cli.Context) (*connection.HTTPClient, error) {
	flags := ParseGlobalFlags(c)

	client := connection.NewHTTPClient(flags.Server, flags.BearerToken)

	if flags.ClientCert != "" && flags.ClientKey != "" {
		leaf, err := tlsroots.NewStaticLeaf(flags.ClientCert, flags.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}

		tlsCfg := &tls.Config{GetClientCertificate: leaf.GetClientCertificate}
		if flags.CACert != "" {
			trustPool := tlsroots.NewEmptyPool()
			if err := trustPool.AddCertFile(flags.CACert); err != nil {
				return nil, fmt.Errorf("read ca-cert: %w", err)
			}
			tlsCfg = trustPool.MutualTLSConfig(leaf)
		}
		client = client.WithTLSConfig(tlsCfg)
	}

	return client, nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
