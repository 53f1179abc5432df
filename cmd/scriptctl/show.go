package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/reconcile"
	"github.com/you/grimoire-overlay/internal/record"
)

func newShowCmd(opts *options) *cobra.Command {
	var ids bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the script body a viewer would render",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.adapter()
			if err != nil {
				return err
			}
			r := opts.reconciler(a)
			rec, err := r.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			res := r.Resolve(cmd.Context(), rec)
			if ids {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(res.Body.IDs, "\n"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Body.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ids, "ids", false, "Print only role ids, one per line")
	return cmd
}

// inspection summarizes what is stored and how a viewer resolves it.
type inspection struct {
	SelectedScript   string `json:"selectedScript" yaml:"selectedScript"`
	CustomName       string `json:"customName,omitempty" yaml:"customName,omitempty"`
	Encoding         string `json:"encoding" yaml:"encoding"`
	Signature        string `json:"signature" yaml:"signature"`
	ScriptVersion    int64  `json:"scriptVersion" yaml:"scriptVersion"`
	CompressionMode  string `json:"compressionMode,omitempty" yaml:"compressionMode,omitempty"`
	BroadcasterBytes int    `json:"broadcasterBytes" yaml:"broadcasterBytes"`
	GlobalBytes      int    `json:"globalBytes" yaml:"globalBytes"`
	GlobalMatches    bool   `json:"globalMatches" yaml:"globalMatches"`
	Source           string `json:"source" yaml:"source"`
	Roles            int    `json:"roles" yaml:"roles"`
	BodyBytes        int    `json:"bodyBytes" yaml:"bodyBytes"`
	Error            string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newInspectCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe the stored segments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.adapter()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rawRec, err := a.GetSegment(ctx, core.Broadcaster)
			if err != nil {
				return err
			}
			rawGlobal, err := a.GetSegment(ctx, core.Global)
			if err != nil {
				return err
			}
			rec, err := record.Parse(rawRec)
			if err != nil {
				return err
			}

			info := inspection{
				SelectedScript:   rec.SelectedScript,
				CustomName:       rec.CustomName,
				Encoding:         string(rec.Encoding()),
				Signature:        string(rec.Signature()),
				ScriptVersion:    rec.ScriptVersion,
				CompressionMode:  rec.CompressionMode,
				BroadcasterBytes: len(rawRec),
				GlobalBytes:      len(rawGlobal),
			}
			if g, err := record.ParseGlobal(rawGlobal); err == nil {
				info.GlobalMatches = g.Matches(rec)
			}
			res := reconcile.Result{}
			if rec.SelectedScript != "" {
				res = opts.reconciler(a).Resolve(ctx, rec)
			}
			info.Source = string(res.Source)
			info.Roles = len(res.Body.IDs)
			info.BodyBytes = res.Body.Len()
			if res.Err != nil {
				info.Error = res.Err.Error()
			}
			return writeInspection(cmd, format, info)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	return cmd
}

func writeInspection(cmd *cobra.Command, format string, info inspection) error {
	w := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(info)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	return fmt.Errorf("unknown format %q", format)
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List builtin scripts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := opts.library().List()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
