package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhsdigital/lg-bulk-upload/internal/filename"
)

var errRejected = errors.New("one or more file names were rejected")

func newFilenameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filename",
		Short: "Check or correct Lloyd George record file names",
	}
	cmd.AddCommand(newFilenameCheckCmd(), newFilenameFixCmd())
	return cmd
}

func newFilenameCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <name...>",
		Short: "Validate names against the naming convention",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			rejected := false
			for _, name := range args {
				if err := filename.ValidateName(name); err != nil {
					rejected = true
					fmt.Fprintf(out, "INVALID\t%s\t%s\n", name, err)
					continue
				}
				fmt.Fprintf(out, "OK\t%s\n", name)
			}
			if rejected {
				return errRejected
			}
			return nil
		},
	}
}

func newFilenameFixCmd() *cobra.Command {
	var strategyName string
	cmd := &cobra.Command{
		Use:   "fix <path...>",
		Short: "Rebuild convention file paths from loosely formatted ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := filename.StrategyByName(strategyName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rejected := false
			for _, path := range args {
				fixed, err := strategy.Correct(path)
				if err != nil {
					rejected = true
					fmt.Fprintf(out, "INVALID\t%s\t%s\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", path, fixed)
			}
			if rejected {
				return errRejected
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", "standard", "Correction strategy: standard or general")
	return cmd
}
