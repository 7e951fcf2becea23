package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/example/go-tagger/internal/trie"
)

func newDictCmd() *cobra.Command {
	var tokens string

	cmd := &cobra.Command{
		Use:   "dict [path]",
		Short: "Validate and list an override dictionary",
		Long: "Load a JSON dictionary (default paths.dictionary) and print its entries. " +
			"With --tokens, print the longest matches found in a whitespace separated sentence.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path := cfg.Paths.Dictionary
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no dictionary given and paths.dictionary is empty")
			}

			dict, err := trie.LoadFile(path)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)

			if tokens == "" {
				table.SetHeader([]string{"KEY", "TAGS"})
				for _, e := range dict.Entries() {
					table.Append([]string{strings.Join(e.Key, " "), strings.Join(e.Value, " ")})
				}
				table.Render()

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d entries\n", dict.Len())
				return err
			}

			sentence := strings.Fields(tokens)
			table.SetHeader([]string{"BEGIN", "END", "SPAN", "TAGS"})
			for _, m := range dict.Tokenize(sentence) {
				table.Append([]string{
					fmt.Sprint(m.Begin),
					fmt.Sprint(m.End),
					strings.Join(sentence[m.Begin:m.End], " "),
					strings.Join(m.Tags, " "),
				})
			}
			table.Render()

			return nil
		},
	}

	cmd.Flags().StringVar(&tokens, "tokens", "", "Whitespace separated sentence to match against the dictionary")

	return cmd
}
