// ABOUTME: topics subcommand summarizing the scopes used inside one thread.
// ABOUTME: Prints message counts and last activity per topic in a table.

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/scope"
)

func init() {
	rootCmd.AddCommand(topicsCmd)
}

var topicsCmd = &cobra.Command{
	Use:   "topics <thread-id>",
	Short: "List the topics (scopes) used inside a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		topics, err := client.ListTopics(getContext(cmd), args[0], 1, cfg.Pagination.ListPageSize)
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}

		if len(topics) == 0 {
			fmt.Println("No messages in this thread yet.")
			return nil
		}
		return printTopics(os.Stdout, topics)
	},
}

func printTopics(out io.Writer, topics []message.TopicSummary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tMESSAGES\tLAST MESSAGE")
	for _, t := range topics {
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			scope.FromScope(t.Scope).String(),
			humanize.Comma(int64(t.MessageCount)),
			humanize.Time(t.LastMessageAt),
		)
	}
	return w.Flush()
}
