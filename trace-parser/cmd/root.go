// Package cmd handles the command lines.
package cmd

import (
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/tracetree/config"
	"github.com/sarchlab/tracetree/datarecording"
	"github.com/sarchlab/tracetree/threads"
	"github.com/sarchlab/tracetree/traceparser"
	"github.com/sarchlab/tracetree/tracing"
)

var rootViper = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "trace-parser",
	Short: "Rebuild span trees from a Chrome performance trace",
	Long: `trace-parser reads a Chrome performance trace (JSON, optionally ` +
		`gzipped), rebuilds the nested spans of the page's threads, and ` +
		`writes the user timing records it finds.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(rootViper.GetInt(config.KeyVerbose))
	},
	Args:         cobra.ExactArgs(0),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rootViper)
		if err != nil {
			return err
		}

		if err := cfg.RequireTrace(); err != nil {
			return err
		}

		warnUnsupported(cfg)

		parser := newParser(cfg)

		res := parser.Process(cfg.Trace)
		if res.Err != nil {
			// Already reported by the parser.
			return nil
		}

		if err := writeOutputs(parser, res, cfg); err != nil {
			logrus.WithError(err).Error("Failed to write outputs")
		}

		return nil
	},
}

// Execute the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Enable extra logging")

	flags := rootCmd.Flags()
	flags.StringP("trace", "t", "", "Chrome trace file, .json or .json.gz")
	flags.StringP("user", "u", "", "Write user timing records to this JSON file")
	flags.StringP("cpu", "c", "", "CPU profile output (not supported)")
	flags.StringP("breakdown", "b", "", "Time breakdown output (not supported)")
	flags.String("tree", "", "Write the span trees to this JSON file")
	flags.String("csv", "", "Export the spans to this CSV file")
	flags.String("db", "", "Export spans, threads and user timing to this SQLite database")
	addLocalPrefixFlag(flags)
	flags.SortFlags = false

	bindFlags(rootViper, rootCmd)

	err := rootViper.BindPFlag(config.KeyVerbose,
		rootCmd.PersistentFlags().Lookup("verbose"))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up flags")
	}

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		logrus.WithError(err).Warn("Failed to load .env")
	}
}

func addLocalPrefixFlag(flags *pflag.FlagSet) {
	flags.String("local-prefix", threads.DefaultLocalServerPrefix,
		"URL prefix of the local instrumentation server")
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	err := v.BindPFlags(cmd.Flags())

	if f := cmd.Flags().Lookup("local-prefix"); f != nil && err == nil {
		err = v.BindPFlag(config.KeyLocalServerPrefix, f)
	}

	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up flags")
	}
}

func warnUnsupported(cfg config.Config) {
	if cfg.CPU != "" {
		logrus.WithField("path", cfg.CPU).Warn("CPU profile output is not supported")
	}

	if cfg.Breakdown != "" {
		logrus.WithField("path", cfg.Breakdown).Warn("Time breakdown output is not supported")
	}
}

func newParser(cfg config.Config) *traceparser.Parser {
	return traceparser.MakeBuilder().
		WithLogger(logrus.StandardLogger()).
		WithLocalServerPrefix(cfg.LocalServerPrefix).
		Build()
}

// writeOutputs writes every configured output concurrently. The result is
// only read.
func writeOutputs(
	parser *traceparser.Parser,
	res *traceparser.Result,
	cfg config.Config,
) error {
	var g multierror.Group

	if cfg.UserTiming != "" {
		g.Go(func() error { return parser.WriteUserTiming(res, cfg.UserTiming) })
	}

	if cfg.Tree != "" {
		g.Go(func() error { return parser.WriteTree(res, cfg.Tree) })
	}

	if cfg.CSV != "" {
		g.Go(func() error { return exportCSV(res, cfg.CSV) })
	}

	if cfg.DB != "" {
		g.Go(func() error { return exportDB(res, cfg.DB) })
	}

	return g.Wait().ErrorOrNil()
}

func exportCSV(res *traceparser.Result, path string) error {
	w := tracing.NewCSVTraceWriter(path)
	if err := w.Init(); err != nil {
		return err
	}

	n, err := tracing.ExportForest(res.Forest, w, nil)
	if err != nil {
		w.Close()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"path":  w.Path(),
		"spans": n,
	}).Info("spans exported")

	return w.Close()
}

func exportDB(res *traceparser.Result, name string) error {
	recorder, err := datarecording.New(strings.TrimSuffix(name, datarecording.FileExt))
	if err != nil {
		return err
	}

	w := tracing.NewDBTraceWriter(recorder)

	err = w.Init()
	if err == nil {
		_, err = tracing.ExportForest(res.Forest, w, nil)
	}

	if err == nil {
		err = w.WriteThreads(res.Threads)
	}

	if err == nil {
		records, _ := res.UserTiming.Export()
		err = w.WriteUserTiming(records)
	}

	return multierror.Append(err, w.Close()).ErrorOrNil()
}
