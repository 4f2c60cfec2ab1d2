package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sarchlab/tracetree/datarecording"
	"github.com/sarchlab/tracetree/tracing"
)

var queryViper = viper.New()

var queryCmd = &cobra.Command{
	Use:   "query DATABASE",
	Short: "List the spans stored in a trace database",
	Long: `query reads a database written with --db and prints the spans ` +
		`matching the given filters, ordered by start time.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		traceReader := tracing.NewDBTraceReader(reader)

		if queryViper.GetBool("threads") {
			keys, err := traceReader.ListThreads(cmd.Context())
			if err != nil {
				return err
			}

			for id, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", id, key)
			}

			return nil
		}

		tasks, err := traceReader.ListTasks(cmd.Context(), taskQuery(queryViper))
		if err != nil {
			return err
		}

		return printTasks(cmd.OutOrStdout(), tasks)
	},
}

func init() {
	flags := queryCmd.Flags()
	flags.String("kind", "", "Only spans of this category")
	flags.String("what", "", "Only spans of this name")
	flags.String("where", "", "Only spans of this thread key, e.g. 1:2")
	flags.Int("thread", -1, "Only spans of this thread id")
	flags.String("parent", "", "Only the children of this span id")
	flags.Bool("roots", false, "Only root spans")
	flags.Bool("with-parent", false, "Also print the name of the parent span")
	flags.Int("limit", 50, "Maximum number of spans, 0 for all")
	flags.Bool("threads", false, "List the threads instead of spans")
	flags.SortFlags = false

	bindFlags(queryViper, queryCmd)
	rootCmd.AddCommand(queryCmd)
}

func taskQuery(v *viper.Viper) tracing.TaskQuery {
	q := tracing.TaskQuery{
		Kind:             v.GetString("kind"),
		What:             v.GetString("what"),
		Where:            v.GetString("where"),
		ParentID:         v.GetString("parent"),
		RootsOnly:        v.GetBool("roots"),
		EnableParentTask: v.GetBool("with-parent"),
		Limit:            v.GetInt("limit"),
	}

	if thread := v.GetInt("thread"); thread >= 0 {
		q.EnableThreadID = true
		q.ThreadID = thread
	}

	return q
}

func printTasks(out io.Writer, tasks []tracing.Task) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "ID\tPARENT\tTHREAD\tSTART\tDURATION\tNAME")

	for _, t := range tasks {
		name := t.What
		if t.ParentTask != nil {
			name = t.ParentTask.What + " > " + name
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			t.ID, t.ParentID, t.ThreadID, t.StartTime, t.Duration(), name)
	}

	return w.Flush()
}
