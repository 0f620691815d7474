// Package cli implements the chowkidar command line: serving the API and the
// maintenance commands that run against the same configuration.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/tech-arch1tect/chowkidar/app"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/database"
	"github.com/tech-arch1tect/chowkidar/services/auth"
	"github.com/tech-arch1tect/chowkidar/services/refreshtoken"
	"golang.org/x/term"
)

// Env is what a command reads from and writes to.
type Env struct {
	Config *config.Config
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, env *Env, args []string) error
}

var commands = map[string]command{
	"serve":   {"start the HTTP server", serve},
	"migrate": {"apply the database schema", migrate},
	"purge":   {"delete refresh tokens past their retention period", purge},
	"useradd": {"create a user: useradd -username NAME [-email EMAIL]", useradd},
}

var errUsage = errors.New("usage")

var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// Main runs the command named by args[0] and returns the process exit code.
func Main(ctx context.Context, env *Env, args []string) int {
	if len(args) == 0 {
		printUsage(env.Stderr)
		return 2
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(env.Stderr, "unknown command %q\n", args[0])
		printUsage(env.Stderr)
		return 2
	}

	if err := cmd.run(ctx, env, args[1:]); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(env.Stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: chowkidar <command> [flags]")
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].usage)
	}
}

func serve(_ context.Context, env *Env, _ []string) error {
	a, err := app.NewApp().WithConfig(env.Config).Build()
	if err != nil {
		return err
	}
	a.Run()
	return nil
}

// withServices builds the app without HTTP, starts it for fn and stops it
// afterwards.
func withServices(ctx context.Context, env *Env, fn func(*app.App) error) (err error) {
	a, err := app.NewApp().WithConfig(env.Config).WithoutHTTP().Build()
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Stop(context.WithoutCancel(ctx)))
	}()
	return fn(a)
}

func migrate(ctx context.Context, env *Env, _ []string) error {
	cfg := *env.Config
	cfg.Database.AutoMigrate = false
	scoped := &Env{Config: &cfg, Stdin: env.Stdin, Stdout: env.Stdout, Stderr: env.Stderr}

	return withServices(ctx, scoped, func(a *app.App) error {
		models := database.WithModels(&auth.User{}, &refreshtoken.RefreshToken{})
		if err := database.Migrate(a.DB(), a.Config(), models, a.Logger()); err != nil {
			return err
		}
		mode := cfg.Database.Migrations
		if mode == "" {
			mode = database.MigrationsAuto
		}
		fmt.Fprintf(env.Stdout, "schema up to date (%s)\n", mode)
		return nil
	})
}

func purge(ctx context.Context, env *Env, _ []string) error {
	return withServices(ctx, env, func(a *app.App) error {
		count, err := a.Tokens().Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "purged %d refresh tokens\n", count)
		return nil
	})
}

func useradd(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	username := fs.String("username", "", "login name")
	email := fs.String("email", "", "email address, optional")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		fs.Usage()
		return errUsage
	}

	password, err := readSecret(env)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	return withServices(ctx, env, func(a *app.App) error {
		if err := a.Users().ValidatePassword(password); err != nil {
			return err
		}
		user, err := a.Users().CreateUser(ctx, *username, *email, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "created user %s (id %d)\n", user.Username, user.ID)
		return nil
	})
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func readSecret(env *Env) (string, error) {
	if f, ok := env.Stdin.(*os.File); ok && isTerminal(int(f.Fd())) {
		fmt.Fprint(env.Stderr, "Password: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(env.Stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(env.Stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
