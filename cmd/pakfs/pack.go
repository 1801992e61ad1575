package main

import (
	"fmt"
	"path"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/archive"
	"github.com/mwantia/pakfs/data"
	"github.com/spf13/cobra"
)

func newPackCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Create and edit pack archives",
	}

	cmd.AddCommand(
		newPackWriteCmd(a, "create", "Create a pack from loose files, replacing an existing one", archive.FlagCreateNew),
		newPackWriteCmd(a, "add", "Add or replace loose files in a pack", 0),
		newPackListCmd(a),
		newPackRemoveCmd(a),
		newPackCompactCmd(a),
	)
	return cmd
}

func newPackWriteCmd(a *app, use, short string, flags archive.Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <pack> <file>...",
		Short: short,
		Long: short + `.

Files are read from disk through the file system, so game folder and aliases
apply. Each entry is named after the path given on the command line, below
--prefix if set.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			methodName, _ := cmd.Flags().GetString("method")
			level, _ := cmd.Flags().GetInt("level")
			prefix, _ := cmd.Flags().GetString("prefix")

			method, ok := archive.ParseMethod(methodName)
			if !ok {
				return fmt.Errorf("%w: unknown method %q", data.ErrInvalid, methodName)
			}

			pack, err := a.fs.OpenArchive(args[0], flags)
			if err != nil {
				return err
			}

			for _, src := range args[1:] {
				content, err := a.fs.ReadFile(cmd.Context(), src, pakfs.FlagOnDisk)
				if err != nil {
					pack.Close()
					return err
				}

				name := path.Join(prefix, data.ToSlash(src))
				if err := pack.UpdateEntry(name, content, method, level); err != nil {
					pack.Close()
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, humanize.IBytes(uint64(len(content))))
			}

			return pack.Close()
		},
	}

	cmd.Flags().String("method", "deflate", "compression method: store, deflate or encrypt")
	cmd.Flags().Int("level", archive.DefaultLevel, "deflate level (-1 uses the default)")
	cmd.Flags().String("prefix", "", "folder inside the pack to place entries in")
	return cmd
}

func newPackListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <pack> [prefix]",
		Short: "List the entries of a pack",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pack, err := a.fs.OpenArchive(args[0], archive.FlagReadOnly)
			if err != nil {
				return err
			}
			defer pack.Close()

			prefix := ""
			if len(args) > 1 {
				prefix = args[1]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range pack.Entries(prefix) {
				if e.IsFolder {
					fmt.Fprintf(w, "%s/\t-\t-\tfolder\t-\n", e.Name)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%08x\n", e.Name,
					humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.CompressedSize)), e.Method, e.CRC32)
			}
			return w.Flush()
		},
	}
	return cmd
}

func newPackRemoveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <pack> <entry>...",
		Short: "Remove entries or folders from a pack",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")

			pack, err := a.fs.OpenArchive(args[0], 0)
			if err != nil {
				return err
			}

			for _, name := range args[1:] {
				if recursive {
					err = pack.RemoveDirectory(name)
				} else {
					err = pack.RemoveEntry(name)
				}
				if err != nil {
					pack.Close()
					return err
				}
			}
			return pack.Close()
		},
	}

	cmd.Flags().BoolP("recursive", "r", false, "remove folders and everything below them")
	return cmd
}

func newPackCompactCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compact <pack>",
		Short: "Reclaim the space of replaced and removed entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pack, err := a.fs.OpenArchive(args[0], archive.FlagDontCompact)
			if err != nil {
				return err
			}

			waste := pack.Waste()
			if err := pack.Compact(); err != nil {
				pack.Close()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %s\n", humanize.IBytes(uint64(waste)))
			return pack.Close()
		},
	}
}
