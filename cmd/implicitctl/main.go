package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/teamlint/pg-implicit/config"
	"github.com/teamlint/pg-implicit/dump"
	"github.com/teamlint/pg-implicit/dump/handler"
	"github.com/teamlint/pg-implicit/executor"
)

// go build -ldflags "-X main.version=1.0.1" main.go
var version = "0.0.1"

func main() {
	app := &cli.App{
		Name:    "implicitctl",
		Usage:   "run SQL against the implicit time column engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yml",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringSliceFlag{
				Name:    "init",
				Aliases: []string{"i"},
				Usage:   "SQL script `FILE` executed before the command",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "exec",
				Usage:     "execute SQL scripts, stdin when no file is given",
				ArgsUsage: "[FILE...]",
				Action:    execAction,
			},
			{
				Name:      "compat",
				Usage:     "print the compatibility report of tables",
				ArgsUsage: "TABLE...",
				Action:    compatAction,
			},
			{
				Name:  "dump",
				Usage: "export pg_implicit_columns_view",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "handler",
						Aliases: []string{"H"},
						Usage:   "dump handler: jsonl, esbulk or sql, overrides config",
					},
				},
				Action: dumpAction,
			},
			{
				Name:      "restore",
				Usage:     "add implicit time columns listed in a sql dump",
				ArgsUsage: "FILE",
				Action:    restoreAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func execAction(c *cli.Context) error {
	return withSession(c, func(cfg *config.Config, ex *executor.Executor, s *executor.Session) error {
		if c.NArg() == 0 {
			script, err := ioutil.ReadAll(os.Stdin)
			if err != nil {
				return errors.Wrap(err, "read stdin")
			}
			return runScript(c.Context, s, string(script))
		}
		for _, path := range c.Args().Slice() {
			script, err := ioutil.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			if err := runScript(c.Context, s, string(script)); err != nil {
				return err
			}
		}
		return nil
	})
}

func runScript(ctx context.Context, s *executor.Session, script string) error {
	results, err := s.ExecScript(ctx, script)
	for _, res := range results {
		fmt.Println(res.String())
	}
	return err
}

func compatAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("table name required")
	}
	return withSession(c, func(cfg *config.Config, ex *executor.Executor, s *executor.Session) error {
		tx := ex.Engine().Begin(c.Context)
		defer ex.Engine().Commit(tx)
		for _, name := range c.Args().Slice() {
			rel, ok := ex.Engine().RelationByName(name)
			if !ok {
				fmt.Printf("table %s: does not exist\n", name)
				continue
			}
			fmt.Print(ex.Guard().CompatibilityInfo(tx, rel.Oid))
		}
		return nil
	})
}

func dumpAction(c *cli.Context) error {
	return withSession(c, func(cfg *config.Config, ex *executor.Executor, s *executor.Session) error {
		name := cfg.Dumper.Handler
		if h := c.String("handler"); h != "" {
			name = h
		}
		if err := registerHandlers(cfg); err != nil {
			return err
		}
		h, err := handler.GetHandler(name)
		if err != nil {
			return errors.Wrapf(err, "%q", name)
		}
		tx := ex.Engine().Begin(c.Context)
		n, err := dump.New(ex.Catalog(), ex.Engine().NodeID()).Dump(tx, h)
		if cerr := ex.Engine().Commit(tx); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		logrus.WithField("handler", name).WithField("rows", n).Infoln("dump finished")
		return nil
	})
}

func restoreAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("dump file required")
	}
	return withSession(c, func(cfg *config.Config, ex *executor.Executor, s *executor.Session) error {
		f, err := os.Open(c.Args().First())
		if err != nil {
			return err
		}
		defer f.Close()
		tx := ex.Engine().Begin(c.Context)
		n, err := dump.Restore(tx, ex.DDL(), f)
		if err != nil {
			ex.Engine().Rollback(tx)
			return err
		}
		if err := ex.Engine().Commit(tx); err != nil {
			return err
		}
		logrus.WithField("tables", n).Infoln("restore finished")
		return nil
	})
}
