package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"daylog/internal/gitlog"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROVIDER\tSOURCE")
		for _, p := range a.agg.Providers() {
			for _, s := range p.ConfiguredSources(a.cfg) {
				fmt.Fprintf(tw, "%s\t%s\n", p.Name(), s)
			}
		}
		return tw.Flush()
	},
}

var authorsCmd = &cobra.Command{
	Use:   "authors <repo-folder>",
	Short: "List the commit authors of a repository",
	Long:  `List the distinct author names reachable from HEAD, to pick a commit_author value.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		authors, err := gitlog.New().FieldValues(cmd.Context(),
			map[string]string{gitlog.FieldRepoFolder: args[0]}, gitlog.FieldCommitAuthor)
		if err != nil {
			return err
		}
		for _, a := range authors {
			fmt.Fprintln(cmd.OutOrStdout(), a)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd, authorsCmd)
}
