// ABOUTME: threads subcommand listing conversation threads newest first.
// ABOUTME: Supports glob filtering on participant ids and humanized update times.

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/2389/coven-console/internal/message"
)

var (
	threadsMatch string
	threadsPage  int
)

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.Flags().StringVar(&threadsMatch, "match", "", "only show threads whose participant matches this glob (e.g. 'agent-*')")
	threadsCmd.Flags().IntVar(&threadsPage, "page", 1, "page number to list")
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List conversation threads, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		threads, err := client.ListThreads(getContext(cmd), threadsPage, cfg.Pagination.ListPageSize)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}

		threads, err = filterThreads(threads, threadsMatch)
		if err != nil {
			return err
		}

		if len(threads) == 0 {
			fmt.Println("No threads found.")
			return nil
		}
		return printThreads(os.Stdout, threads)
	},
}

// filterThreads keeps threads whose participant id matches pattern. An
// empty pattern keeps everything.
func filterThreads(threads []message.Thread, pattern string) ([]message.Thread, error) {
	if pattern == "" {
		return threads, nil
	}
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid --match pattern %q: %w", pattern, err)
	}

	var out []message.Thread
	for _, th := range threads {
		if matcher.Match(th.ParticipantID) {
			out = append(out, th)
		}
	}
	return out, nil
}

func printThreads(out io.Writer, threads []message.Thread) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARTICIPANT\tWORKFLOW\tUPDATED")
	for _, th := range threads {
		workflow := th.WorkflowType
		if th.WorkflowID != "" {
			workflow += "/" + th.WorkflowID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			th.ID,
			th.ParticipantID,
			workflow,
			humanize.Time(th.UpdatedAt),
		)
	}
	return w.Flush()
}
