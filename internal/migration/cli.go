package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// Commands lists the subcommands understood by CLI.Run.
var Commands = []string{"up", "down", "steps", "goto", "force", "version", "status"}

// CLI renders migration operations for a terminal.
type CLI struct {
	runner Runner
	out    io.Writer
}

// NewCLI creates a CLI writing to stdout.
func NewCLI(r Runner) *CLI {
	return &CLI{runner: r, out: os.Stdout}
}

// SetOutput redirects the CLI output.
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// Run executes one subcommand: up, down, steps N, goto V, force V,
// version or status.
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migrate command, want one of %v", Commands)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "up":
		return c.up(ctx)
	case "down":
		return c.down(ctx)
	case "steps":
		n, err := intArg(cmd, rest)
		if err != nil {
			return err
		}
		return c.steps(ctx, n)
	case "goto":
		n, err := intArg(cmd, rest)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("goto: version must not be negative")
		}
		return c.gotoVersion(ctx, uint(n))
	case "force":
		n, err := intArg(cmd, rest)
		if err != nil {
			return err
		}
		return c.force(ctx, n)
	case "version":
		return c.version(ctx)
	case "status":
		return c.status(ctx)
	default:
		return fmt.Errorf("unknown migrate command %q, want one of %v", cmd, Commands)
	}
}

func intArg(cmd string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected exactly one numeric argument", cmd)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", cmd, args[0])
	}
	return n, nil
}

func (c *CLI) up(ctx context.Context) error {
	fmt.Fprintln(c.out, "Running migrations...")
	if err := c.runner.Up(ctx); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Migrations complete.")
}

func (c *CLI) down(ctx context.Context) error {
	fmt.Fprintln(c.out, "Rolling back last migration...")
	if err := c.runner.Down(ctx); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Rollback complete.")
}

func (c *CLI) steps(ctx context.Context, n int) error {
	if n >= 0 {
		fmt.Fprintf(c.out, "Applying %d migration(s)...\n", n)
	} else {
		fmt.Fprintf(c.out, "Rolling back %d migration(s)...\n", -n)
	}
	if err := c.runner.Steps(ctx, n); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Complete.")
}

func (c *CLI) gotoVersion(ctx context.Context, v uint) error {
	fmt.Fprintf(c.out, "Migrating to version %d...\n", v)
	if err := c.runner.Goto(ctx, v); err != nil {
		return err
	}
	return c.printCurrent(ctx, "Migration complete.")
}

func (c *CLI) force(ctx context.Context, v int) error {
	if err := c.runner.Force(ctx, v); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Version forced to %d\n", v)
	return nil
}

func (c *CLI) printCurrent(ctx context.Context, prefix string) error {
	info, err := c.runner.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s Current version: %d\n", prefix, info.CurrentVersion)
	return nil
}

func (c *CLI) version(ctx context.Context) error {
	v, dirty, err := c.runner.Version(ctx)
	if err != nil {
		return err
	}
	if v == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	if dirty {
		fmt.Fprintf(c.out, "Current version: %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(c.out, "Current version: %d\n", v)
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	statuses, err := c.runner.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}
