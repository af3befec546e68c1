package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wem-technology/ios-webxr-sub000/internal/config"
)

// AnchorsOptions holds flags shared by the anchors subcommands.
type AnchorsOptions struct {
	*RootOptions
	Driver string
	Path   string
}

// AnchorList is the output of anchors list.
type AnchorList struct {
	Driver  string   `json:"driver"`
	Path    string   `json:"path"`
	Anchors []string `json:"anchors"`
}

// NewAnchorsCommand creates the anchors command group.
func NewAnchorsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnchorsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "anchors",
		Short: "Inspect and delete persistent anchors",
		Long: `Inspect the persistent anchor store used by sessions.

The store is the one named in the config file (store.driver, store.path)
unless --driver or --path override it.

Examples:
  xrsim anchors list
  xrsim anchors list --driver json --path ./anchors.json
  xrsim anchors delete 0190f3a4-...`,
	}

	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver (sqlite|json)")
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "store path")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List persistent anchor ids",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnchorsList(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a persistent anchor",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnchorsDelete(opts, args[0], cmd)
		},
	})

	return cmd
}

func (o *AnchorsOptions) storeConfig() (config.StoreConfig, error) {
	cfg, err := loadConfig(o.RootOptions)
	if err != nil {
		return config.StoreConfig{}, err
	}
	sc := cfg.Store
	if o.Driver != "" {
		sc.Driver = o.Driver
	}
	if o.Path != "" {
		sc.Path = o.Path
	}
	return sc, nil
}

func runAnchorsList(opts *AnchorsOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	sc, err := opts.storeConfig()
	if err != nil {
		return err
	}
	backend, _, err := openAnchorStore(sc)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer backend.Close()

	ids, err := listAnchorIDs(cmdContext(cmd), backend)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read anchors", err)
	}

	if f.JSON() {
		return f.Success(AnchorList{Driver: sc.Driver, Path: sc.Path, Anchors: ids})
	}
	if len(ids) == 0 {
		f.Printf("No persistent anchors in %s.\n", sc.Path)
		return nil
	}
	f.Printf("%d persistent anchor(s) in %s:\n", len(ids), sc.Path)
	for _, id := range ids {
		f.Printf("  %s\n", id)
	}
	return nil
}

func runAnchorsDelete(opts *AnchorsOptions, id string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	sc, err := opts.storeConfig()
	if err != nil {
		return err
	}
	backend, _, err := openAnchorStore(sc)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer backend.Close()

	ok, err := deleteAnchorID(cmdContext(cmd), backend, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to delete anchor", err)
	}
	if !ok {
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("anchor %q not found", id), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("anchor %q not found", id))
	}
	if f.JSON() {
		return f.Success(map[string]string{"deleted": id})
	}
	f.Printf("✓ Deleted anchor %s\n", id)
	return nil
}
