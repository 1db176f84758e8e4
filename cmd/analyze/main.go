// Command analyze runs one analysis of a local file against the prediction
// service and prints the features and label.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/machine-monitor/backend/internal/logging"
	"github.com/machine-monitor/backend/internal/models"
	"github.com/machine-monitor/backend/internal/predict"
	"github.com/machine-monitor/backend/internal/session"
	"github.com/machine-monitor/backend/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)

	apiURL := fs.String("api", envOr("DASHBOARD_API_URL", "http://localhost:8000"), "prediction service base URL")
	delimiter := fs.String("delimiter", models.DefaultDelimiter, "value delimiter")
	transpose := fs.Bool("transpose", false, "read values column by column")
	timeout := fs.Duration("timeout", 60*time.Second, "prediction request timeout")
	asJSON := fs.Bool("json", false, "print the session snapshot as JSON")
	logLevel := fs.String("log-level", "warn", "log level")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: analyze [flags] FILE.csv")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	path := fs.Arg(0)

	if !storage.HasAllowedExtension(path, []string{".csv"}) {
		fmt.Fprintf(stderr, "analyze: %s is not a .csv file\n", path)
		return 2
	}

	logger := logging.New(*logLevel, "text", stderr)

	client, err := predict.New(predict.Options{BaseURL: *apiURL, Timeout: *timeout}, logger)
	if err != nil {
		fmt.Fprintf(stderr, "analyze: %v\n", err)
		return 2
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(stderr, "analyze: %v\n", err)
		return 1
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := session.NewManager(nil, client, session.WithLogger(logger))
	defer mgr.Close()

	snap := mgr.Run(ctx, filepath.Base(path), f, models.AnalysisOptions{
		Delimiter: *delimiter,
		Transpose: *transpose,
	})

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(snap)
	} else {
		printSnapshot(stdout, snap)
	}

	if snap.Status != models.StatusComplete {
		return 1
	}
	return 0
}

func printSnapshot(w io.Writer, snap models.SessionSnapshot) {
	if snap.Status == models.StatusError {
		fmt.Fprintf(w, "ERROR %s: %s\n", snap.ErrorKind, snap.Error)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, f := range snap.Features {
		fmt.Fprintf(tw, "%s\t%g\n", f.Name, f.Value)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nlabel: %s (%d values, %d ms)\n", snap.Label, snap.SampleCount, snap.ProcessingTimeMs)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
