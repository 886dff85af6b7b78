package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"localcsf/pkg/config"
	"localcsf/pkg/nifti"
)

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config PATH",
		Short: "Write a default configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", args[0])
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the grid and frame count of a NIfTI image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := nifti.Read(args[0])
			if err != nil {
				return err
			}
			g := img.Grid()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "file:     %s\n", args[0])
			fmt.Fprintf(out, "datatype: %s\n", nifti.DataType(img.Header.DataType))
			fmt.Fprintf(out, "shape:    %d x %d x %d\n", g.Shape[0], g.Shape[1], g.Shape[2])
			fmt.Fprintf(out, "frames:   %d\n", img.Frames())
			fmt.Fprintln(out, "affine:")
			for _, row := range g.Affine {
				fmt.Fprintf(out, "  %10.4f %10.4f %10.4f %10.4f\n", row[0], row[1], row[2], row[3])
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the localcsf version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "localcsf version %s\n", Version)
		},
	}
}
