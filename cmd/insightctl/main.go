// Command insightctl runs one-off turns, inspects threads and renders the
// workflow.
//
//	insightctl query [--thread ID] [--image FILE]... [--chart-out FILE] QUESTION
//	insightctl thread ID [QUERY]
//	insightctl purge ID
//	insightctl graph [--analyze-plot]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/randalmurphal/insightgraph/internal/app"
	"github.com/randalmurphal/insightgraph/pkg/agent"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/server"
	"github.com/randalmurphal/insightgraph/pkg/settings"
)

const usage = `usage: insightctl <command> [flags]

commands:
  query    run one turn and print the answer
  thread   print a thread snapshot or one named query
  purge    delete a thread
  graph    print the workflow as Mermaid
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "query":
		return runQuery(ctx, rest, out)
	case "thread":
		return runThread(ctx, rest, out)
	case "purge":
		return runPurge(ctx, rest)
	case "graph":
		return runGraph(rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// common holds the flags every connected command takes.
type common struct {
	envFile string
	verbose bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")
}

// build wires the assistant. Logs are discarded unless verbose.
func (c *common) build(ctx context.Context) (*app.App, error) {
	cfg, err := settings.Load(c.envFile)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.DiscardHandler)
	if c.verbose {
		if logger, err = app.NewLogger(cfg.Log, os.Stderr); err != nil {
			return nil, err
		}
	}
	return app.Build(ctx, cfg, logger)
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Close(ctx)
}

func runQuery(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	var c common
	c.register(fs)
	thread := fs.StringP("thread", "t", server.DefaultThreadID, "thread ID")
	images := fs.StringArrayP("image", "i", nil, "image file to attach (repeatable)")
	chartOut := fs.String("chart-out", "", "write the chart JSON to this file")
	limit := fs.Int("recursion-limit", 0, "node execution limit for the turn (0 uses the configured default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.Join(fs.Args(), " ")

	in := agent.Input{Question: question, RecursionLimit: *limit}
	for _, path := range *images {
		img, err := readImage(path)
		if err != nil {
			return err
		}
		in.Images = append(in.Images, img)
	}

	a, err := c.build(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	reply, err := a.Assistant.Ask(ctx, *thread, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply.Answer)
	if reply.AwaitingInput {
		fmt.Fprintf(out, "\n(thread %s is waiting for your reply)\n", *thread)
	}
	if len(reply.Chart) > 0 {
		if *chartOut == "" {
			fmt.Fprintln(out, "\n(a chart was generated; pass --chart-out to save it)")
			return nil
		}
		if err := os.WriteFile(*chartOut, reply.Chart, 0o644); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	return nil
}

// readImage loads an image attachment, sniffing its MIME type.
func readImage(path string) (llm.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return llm.Image{}, fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return llm.Image{}, fmt.Errorf("%s: not an image (%s)", path, mime)
	}
	return llm.Image{MIMEType: mime, Data: data}, nil
}

func runThread(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("thread", flag.ContinueOnError)
	var c common
	c.register(fs)
	limit := fs.Int("limit", 0, "for the messages query, only the most recent messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New("usage: insightctl thread ID [QUERY]")
	}

	a, err := c.build(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	var res any
	if fs.NArg() == 1 {
		res, err = a.Assistant.Inspect(ctx, fs.Arg(0))
	} else {
		var qargs any
		if *limit > 0 {
			qargs = *limit
		}
		res, err = a.Assistant.Query(ctx, fs.Arg(0), fs.Arg(1), qargs)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runPurge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	var c common
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: insightctl purge ID")
	}

	a, err := c.build(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)
	return a.Assistant.Purge(ctx, fs.Arg(0))
}

func runGraph(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("graph", flag.ContinueOnError)
	analyzePlot := fs.Bool("analyze-plot", false, "include the Analyze_Plot route")
	if err := fs.Parse(args); err != nil {
		return err
	}
	diagram, err := agent.Diagram(*analyzePlot)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, diagram)
	return err
}
