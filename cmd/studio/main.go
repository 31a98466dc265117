// Command studio works with scenarios and branches from the terminal: it
// exports and imports scenario files, validates them offline and drives the
// branch routes of a running DialogStudio API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/AaronLay10/DialogStudio/internal/branch"
	"github.com/AaronLay10/DialogStudio/internal/client"
	"github.com/AaronLay10/DialogStudio/internal/codec"
	"github.com/AaronLay10/DialogStudio/internal/config"
	"github.com/AaronLay10/DialogStudio/internal/logging"
	"github.com/AaronLay10/DialogStudio/internal/scenario"
	"github.com/AaronLay10/DialogStudio/internal/session"
	"github.com/AaronLay10/DialogStudio/internal/version"
)

const usage = `usage: studio [flags] <command> [args]

commands:
  list                         list scenarios on the branch
  export <id> [-o file]        write a scenario in the export format
  import <file> [-id id]       import a file and save it on the branch
  validate <file>              check a scenario file without the API
  branch list
  branch create <name> [-from branch]
  branch merge <source> [-target branch]
  branch delete <name>
  branch history
  version

flags:
`

// app carries the global flags into each command.
type app struct {
	stdout io.Writer
	stderr io.Writer
	branch string
	author string
	logger *zap.Logger
	api    *client.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("studio", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", os.Getenv("DIALOGSTUDIO_CONFIG"), "path to studio.yaml")
	apiURL := fs.String("api", "", "storage API base URL (overrides config)")
	branchName := fs.String("branch", branch.MainBranch, "branch to work on")
	author := fs.String("author", os.Getenv("USER"), "author recorded in branch history")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if *apiURL != "" {
		cfg.Client.BaseURL = *apiURL
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	a := &app{
		stdout: stdout,
		stderr: stderr,
		branch: *branchName,
		author: *author,
		logger: logger,
		api: client.New(client.Config{
			BaseURL:     cfg.Client.BaseURL,
			Timeout:     cfg.Client.Timeout,
			MaxFailures: cfg.Client.MaxFailures,
			OpenTimeout: cfg.Client.OpenTimeout,
		}, logger),
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "list":
		err = a.list(ctx)
	case "export":
		err = a.export(ctx, rest)
	case "import":
		err = a.importFile(ctx, rest)
	case "validate":
		err = a.validate(rest)
	case "branch":
		err = a.branchCmd(ctx, rest)
	case "version":
		fmt.Fprintln(stdout, version.Version)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	if err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "usage: studio %s\n", string(usageErr))
			return 2
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return "usage: " + string(e) }

// parseArgs parses flags that may follow the positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (a *app) list(ctx context.Context) error {
	envs, err := client.NewScenarioClient(a.api).ListScenarios(ctx, a.branch)
	if err != nil {
		return err
	}
	for _, env := range envs {
		fmt.Fprintf(a.stdout, "%s\t%s\n", env.ID, env.Name)
	}
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	out := fs.String("o", "", "output file (default stdout)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageError("export <id> [-o file]")
	}

	sess := session.New(client.NewScenarioClient(a.api), a.branch, session.WithLogger(a.logger))
	if err := sess.Open(ctx, pos[0]); err != nil {
		return err
	}
	data, err := sess.Export()
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if *out == "" {
		_, err = a.stdout.Write(data)
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}

func (a *app) importFile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	id := fs.String("id", "", "existing scenario to overwrite")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return usageError("import <file> [-id id]")
	}

	data, err := os.ReadFile(pos[0])
	if err != nil {
		return err
	}
	sess := session.New(client.NewScenarioClient(a.api), a.branch,
		session.WithLogger(a.logger), session.WithAuthor(a.author))
	if *id != "" {
		if err := sess.Open(ctx, *id); err != nil {
			return err
		}
	}
	if err := sess.Import(data); err != nil {
		return err
	}
	for _, w := range sess.Validate() {
		fmt.Fprintf(a.stderr, "warning: %s\n", w)
	}
	saved, err := sess.Save(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, saved)
	return nil
}

func (a *app) validate(args []string) error {
	if len(args) != 1 {
		return usageError("validate <file>")
	}
	sc, err := codec.ReadFile(args[0])
	if err != nil {
		return err
	}
	warnings := scenario.Validate(sc)
	for _, w := range warnings {
		fmt.Fprintln(a.stdout, w)
	}
	if len(warnings) == 0 {
		fmt.Fprintf(a.stdout, "%s: %d nodes, %d edges, no warnings\n", args[0], len(sc.Nodes), len(sc.Edges))
	}
	return nil
}

func (a *app) branchCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("branch <list|create|merge|delete|history>")
	}
	bc := client.NewBranchClient(a.api)

	switch args[0] {
	case "list":
		names, err := bc.List(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(a.stdout, n)
		}
		return nil

	case "create":
		fs := flag.NewFlagSet("branch create", flag.ContinueOnError)
		fs.SetOutput(a.stderr)
		from := fs.String("from", branch.MainBranch, "source branch")
		pos, err := parseArgs(fs, args[1:])
		if err != nil {
			return err
		}
		if len(pos) != 1 {
			return usageError("branch create <name> [-from branch]")
		}
		b, err := bc.Create(ctx, pos[0], *from, a.author)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "created %s from %s (%d scenarios)\n", b.Name, *from, len(b.ScenarioData))
		return nil

	case "merge":
		fs := flag.NewFlagSet("branch merge", flag.ContinueOnError)
		fs.SetOutput(a.stderr)
		target := fs.String("target", branch.MainBranch, "target branch")
		pos, err := parseArgs(fs, args[1:])
		if err != nil {
			return err
		}
		if len(pos) != 1 {
			return usageError("branch merge <source> [-target branch]")
		}
		res, err := bc.Merge(ctx, pos[0], *target, a.author)
		if err != nil {
			return err
		}
		if !res.Success {
			for _, c := range res.Conflicts {
				fmt.Fprintf(a.stdout, "conflict: %s\n", c)
			}
			return errors.New(res.Message)
		}
		fmt.Fprintln(a.stdout, res.Message)
		return nil

	case "delete":
		if len(args) != 2 {
			return usageError("branch delete <name>")
		}
		if err := bc.Delete(ctx, args[1], a.author); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "deleted %s\n", args[1])
		return nil

	case "history":
		entries, err := bc.History(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(a.stdout)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	return usageError("branch <list|create|merge|delete|history>")
}
