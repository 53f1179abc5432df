package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/codec"
	"github.com/you/grimoire-overlay/internal/filechannel"
	"github.com/you/grimoire-overlay/internal/httpchannel"
	"github.com/you/grimoire-overlay/internal/reconcile"
	"github.com/you/grimoire-overlay/internal/record"
	"github.com/you/grimoire-overlay/internal/script"
	"github.com/you/grimoire-overlay/internal/version"
)

type options struct {
	server     string
	dir        string
	capacity   int
	codecMode  string
	scriptsDir string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "scriptctl",
		Short: "Publish and inspect clocktower overlay scripts",
		Long: `scriptctl writes script selections to the overlay config segments and
reads them back the way a viewer would.

Examples:
  scriptctl builtin trouble_brewing.json --server http://localhost:8080
  scriptctl publish my_script.json --name "Friday game" --dir ./segments
  scriptctl inspect --format yaml --dir ./segments`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version.Version, version.Commit, version.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVar(&opts.server, "server", "", "Base URL of a running overlayd")
	root.PersistentFlags().StringVar(&opts.dir, "dir", "", "Segment directory (instead of --server)")
	root.PersistentFlags().IntVar(&opts.capacity, "capacity", record.DefaultCapacity, "Segment capacity in bytes")
	root.PersistentFlags().StringVar(&opts.codecMode, "codec", codec.DefaultMode, "Preferred compression mode")
	root.PersistentFlags().StringVar(&opts.scriptsDir, "scripts", "", "Builtin script directory")

	root.AddCommand(
		newPublishCmd(opts),
		newBuiltinCmd(opts),
		newShowCmd(opts),
		newInspectCmd(opts),
		newListCmd(opts),
	)
	return root
}

func (o *options) adapter() (channel.Adapter, error) {
	switch {
	case o.server != "" && o.dir != "":
		return nil, errors.New("use either --server or --dir, not both")
	case o.server != "":
		return httpchannel.New(strings.TrimSpace(o.server)), nil
	case o.dir != "":
		return filechannel.Open(o.dir, o.capacity)
	}
	return nil, errors.New("one of --server or --dir is required")
}

func (o *options) codec() *codec.Codec { return codec.ForMode(o.codecMode) }

func (o *options) library() *script.Library { return script.NewLibrary(o.scriptsDir) }

func (o *options) builder() *record.Builder {
	b := record.NewBuilder(o.codec())
	b.Capacity = o.capacity
	b.GlobalCapacity = o.capacity
	return b
}

func (o *options) reconciler(a channel.Adapter) *reconcile.Reconciler {
	return &reconcile.Reconciler{Channel: a, Codec: o.codec(), Library: o.library()}
}
