// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/feedfuse/feedfuse/internal/secrets"
	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider API keys in the OS keyring",
		Long: "Store, inspect, and delete provider API keys held in the operating system\n" +
			"keyring. Config files reference them as keyring://<name>.",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretGetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret (reads value from stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSecretSet,
	}
}

func newSecretGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print a stored secret value",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretGet,
	}
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored secret names",
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fferr.Wrap(err, fferr.CodeCLIInputInvalid, "reading secret value from stdin")
		}
		value = strings.TrimRight(string(raw), "\r\n")
	}
	if value == "" {
		return fferr.New(fferr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	if err := secrets.NewStore().Set(name, value); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s\n", name)
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	val, err := secrets.NewStore().Get(args[0])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), val)
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	names, err := secrets.NewStore().List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}
	for _, n := range names {
		_, _ = fmt.Fprintln(out, n)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	if err := secrets.NewStore().Delete(args[0]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", args[0])
	return nil
}
