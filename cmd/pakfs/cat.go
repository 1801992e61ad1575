package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/pakfs"
	"github.com/mwantia/pakfs/data"
	"github.com/spf13/cobra"
)

func newCatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <path>...",
		Short: "Write game files to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := openFlags(cmd)
			if err != nil {
				return err
			}

			for _, p := range args {
				f, err := a.fs.Open(cmd.Context(), p, "rb", flags)
				if err != nil {
					return err
				}
				_, err = io.Copy(cmd.OutOrStdout(), f)
				if closeErr := f.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("disk", false, "read loose files only")
	cmd.Flags().Bool("pak", false, "read pack entries only")
	return cmd
}

func newStatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <path>...",
		Short: "Show where game files are served from",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := openFlags(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range args {
				info, err := a.fs.Stat(p, flags)
				if err != nil {
					return err
				}

				switch info.Source {
				case data.SourcePack:
					fmt.Fprintf(out, "%s\tpack %s\t%s\tcrc %08x\n", p, info.Pack, humanize.IBytes(uint64(info.Size)), info.CRC32)
				default:
					fmt.Fprintf(out, "%s\tdisk %s\t%s\n", p, info.Path, humanize.IBytes(uint64(info.Size)))
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("disk", false, "look at loose files only")
	cmd.Flags().Bool("pak", false, "look at pack entries only")
	return cmd
}

func openFlags(cmd *cobra.Command) (pakfs.OpenFlags, error) {
	disk, _ := cmd.Flags().GetBool("disk")
	pak, _ := cmd.Flags().GetBool("pak")

	switch {
	case disk && pak:
		return 0, fmt.Errorf("--disk and --pak are mutually exclusive")
	case disk:
		return pakfs.FlagOnDisk, nil
	case pak:
		return pakfs.FlagInPak, nil
	}
	return 0, nil
}
