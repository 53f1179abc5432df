package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/publisher"
)

func newPublishCmd(opts *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "publish <script.json>",
		Short: "Publish a custom script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sel := core.CustomNew()
			if name != "" {
				sel = core.CustomSaved(name)
			}
			return save(cmd, opts, sel, raw)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Custom script name shown to viewers")
	return cmd
}

func newBuiltinCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "builtin <file.json>",
		Short: "Select a builtin script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.library().Raw(args[0]); err != nil {
				return fmt.Errorf("builtin %s: %w", args[0], err)
			}
			return save(cmd, opts, core.Builtin(args[0]), nil)
		},
	}
}

func save(cmd *cobra.Command, opts *options, sel core.Selection, raw []byte) error {
	a, err := opts.adapter()
	if err != nil {
		return err
	}
	out, err := publisher.New(a, opts.builder()).Save(cmd.Context(), sel, raw)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "saved %s (encoding=%s version=%d)\n", out.Record.SelectedScript, out.Encoding, out.Record.ScriptVersion)
	if out.Stats.OriginalLength > 0 {
		fmt.Fprintf(w, "  %d bytes -> %d bytes (%s)\n", out.Stats.OriginalLength, out.Stats.CompressedLength, out.Stats.Mode)
	}
	if !out.Broadcasted {
		fmt.Fprintf(w, "  broadcast failed: %s\n", out.BroadcastErr)
	}
	return nil
}
