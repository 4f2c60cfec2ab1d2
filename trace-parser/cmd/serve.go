package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/tracetree/config"
	"github.com/sarchlab/tracetree/monitoring"
)

const shutdownTimeout = 5 * time.Second

var serveViper = config.NewViper()

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Parse a trace and browse its span trees in a web page",
	Long: `serve parses a trace and starts a web server to browse the ` +
		`resulting span trees, threads and user timing records. It runs ` +
		`until interrupted.`,
	Args:         cobra.ExactArgs(0),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveViper)
		if err != nil {
			return err
		}

		if err := cfg.RequireTrace(); err != nil {
			return err
		}

		res := newParser(cfg).Process(cfg.Trace)

		monitor := monitoring.NewMonitor().
			WithLogger(logrus.StandardLogger()).
			WithPortNumber(cfg.Port)
		monitor.RegisterResult(res)

		url, err := monitor.StartServer()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, monitor, url, cfg.OpenBrowser)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringP("trace", "t", "", "Chrome trace file, .json or .json.gz")
	flags.IntP("port", "p", 0, "Port of the web server, random if 0")
	flags.Bool("open", false, "Open the page in a browser")
	addLocalPrefixFlag(flags)
	flags.SortFlags = false

	bindFlags(serveViper, serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func serve(
	ctx context.Context,
	monitor *monitoring.Monitor,
	url string,
	openBrowser bool,
) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout)
		defer cancel()

		logrus.Info("Stopping monitoring server")

		return monitor.StopServer(shutdownCtx)
	})

	if openBrowser {
		g.Go(func() error {
			if err := browser.OpenURL(url); err != nil {
				logrus.WithError(err).WithField("url", url).
					Warn("Failed to open browser")
			}

			return nil
		})
	}

	return g.Wait()
}
