// Package command provides CLI command definitions for fabrictl.
package command

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/relaymesh/fabric/internal/cli/connection"
	"github.com/relaymesh/fabric/internal/cli/output"
)

// formatterFromFlags validates the --output flag and builds the
// matching formatter, so an unrecognized value is a usage error instead
// of a silent fallback to table.
func formatterFromFlags(flags *GlobalFlags) (output.Formatter, error) {
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return nil, err
	}
	return output.NewFormatter(format, flags.Wide), nil
}

// StatusCommand returns the status command: GET /health and, for a
// coordinator, GET /internal/ca-cert.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Check a node's health and, on a coordinator, its CA identity",
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, "/health")
	if err != nil {
		PrintError("health check failed: %v", err)
		return fmt.Errorf("node unreachable")
	}

	var health map[string]any
	if err := connection.ParseResponse(resp, &health); err != nil {
		return err
	}

	result := map[string]any{"health": health}

	caResp, err := client.Get(ctx, "/internal/ca-cert")
	if err == nil && caResp.StatusCode == 200 {
		body, _ := io.ReadAll(caResp.Body)
		caResp.Body.Close()
		if block, _ := pem.Decode(body); block != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				result["ca_subject"] = cert.Subject.CommonName
				result["ca_not_after"] = cert.NotAfter.UTC().Format(time.RFC3339)
			}
		}
	}

	flags := ParseGlobalFlags(c)
	formatter, err := formatterFromFlags(flags)
	if err != nil {
		return err
	}
	return formatter.Format(os.Stdout, result)
}

// MembersCommand returns the members command: proxy.cluster.<self>.members()
// executed as a plain RPC call against the connected node, dispatched
// locally since the caller targets itself.
func MembersCommand() *cli.Command {
	return &cli.Command{
		Name:   "members",
		Usage:  "List every node known to the connected node's directory",
		Action: membersAction,
	}
}

func membersAction(c *cli.Context) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deadline, _ := ctx.Deadline()
	spinner := output.NewSpinner(os.Stderr, "querying cluster/members").WithDeadline(deadline)
	spinner.Start()
	raw, err := client.Call(ctx, "cluster/members", nil)
	if err != nil {
		spinner.Fail(err.Error())
		return fmt.Errorf("cluster/members: %w", err)
	}
	spinner.Stop()

	var members []map[string]any
	if err := json.Unmarshal(raw, &members); err != nil {
		return fmt.Errorf("cluster/members: parse response: %w", err)
	}

	flags := ParseGlobalFlags(c)
	formatter, err := formatterFromFlags(flags)
	if err != nil {
		return err
	}
	return formatter.Format(os.Stdout, members)
}

// CallCommand returns the call command: a direct exercise of the
// ServiceProxy contract from outside the process. Usage:
//
//	fabrictl call <service>/<method> ['<json-params>']
//
// The method name is sent as-is in the POST /rpc envelope and looked up
// in the connected node's own registry; there is no node_id or role
// target segment, so the call always runs on the node fabrictl is
// connected to.
func CallCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Invoke a registered method through the RPC fabric",
		ArgsUsage: "<service>/<method> [json-params]",
		Action:    callAction,
	}
}

func callAction(c *cli.Context) error {
	method := c.Args().Get(0)
	if method == "" {
		return fmt.Errorf(`method required, e.g. "system/ping"`)
	}

	var params any
	if raw := c.Args().Get(1); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return fmt.Errorf("parse json-params: %w", err)
		}
	}

	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deadline, _ := ctx.Deadline()
	spinner := output.NewSpinner(os.Stderr, fmt.Sprintf("calling %s", method)).WithDeadline(deadline)
	spinner.Start()
	result, err := client.Call(ctx, method, params)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Stop()

	flags := ParseGlobalFlags(c)
	formatter, err := formatterFromFlags(flags)
	if err != nil {
		return err
	}

	// A raw-capable formatter (JSON) re-indents result's bytes directly,
	// preserving uint64 fields like NodeInfo.Version that a decode into
	// `any` would round through float64 and risk truncating.
	if rf, ok := formatter.(output.RawFormatter); ok {
		return rf.FormatRaw(os.Stdout, result)
	}

	var decoded any
	if len(result) > 0 {
		if err := json.Unmarshal(result, &decoded); err != nil {
			decoded = string(result)
		}
	}
	return formatter.Format(os.Stdout, decoded)
}
