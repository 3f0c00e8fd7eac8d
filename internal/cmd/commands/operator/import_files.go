package operator

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp-forge/wopihost/internal/cmd/base"
	"github.com/hashicorp-forge/wopihost/internal/config"
	"github.com/hashicorp-forge/wopihost/internal/server"
	"github.com/hashicorp-forge/wopihost/pkg/storage"
	"github.com/hashicorp-forge/wopihost/pkg/wopi"
)

type ImportFilesCommand struct {
	*base.Command

	flagConfig       string
	flagOwner        string
	flagFriendlyName string
	flagEmail        string
	flagDryRun       bool
	flagVerbose      bool
}

func (c *ImportFilesCommand) Synopsis() string {
	return "Import local files into the catalog"
}

func (c *ImportFilesCommand) Help() string {
	return `Usage: wopihost operator import -config=config.hcl -owner=alice FILE...

  This command uploads local files into the catalog, owned by the given
  user. The owner is created when it does not exist yet. Files whose name
  the owner already uses are skipped.` +
		c.Flags().Help()
}

func (c *ImportFilesCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("import", flag.ContinueOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "(Required) Path to config file",
	)
	f.StringVar(
		&c.flagOwner, "owner", "", "(Required) Login name of the owning user",
	)
	f.StringVar(
		&c.flagFriendlyName, "friendly-name", "",
		"Display name used when the owner is created.",
	)
	f.StringVar(
		&c.flagEmail, "email", "",
		"Email address used when the owner is created.",
	)
	f.BoolVar(
		&c.flagDryRun, "dry-run", false,
		"Only print what would be done without making changes.",
	)
	f.BoolVar(
		&c.flagVerbose, "verbose", false,
		"Print extra information including each imported file ID.",
	)

	return f
}

func (c *ImportFilesCommand) Run(args []string) int {
	logger, ui := c.Log, c.UI
	ctx := context.Background()

	// Parse flags.
	flags := c.Flags()
	if err := flags.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	// Validate flags.
	if c.flagConfig == "" {
		ui.Error("config flag is required")
		return 1
	}
	if c.flagOwner == "" {
		ui.Error("owner flag is required")
		return 1
	}
	paths := flags.Args()
	if len(paths) == 0 {
		ui.Error("at least one file is required")
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig)
	if err != nil {
		ui.Error(fmt.Sprintf("error parsing config file: %v", err))
		return 1
	}

	db, err := server.ConnectDatabase(cfg, logger)
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing database: %v", err))
		return 1
	}
	cat, err := server.OpenCatalog(ctx, cfg, db, logger)
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing storage: %v", err))
		return 1
	}

	if c.flagDryRun {
		ui.Warn("DRY RUN mode enabled - no changes will be made")
	}

	owner, err := cat.LookupUser(ctx, c.flagOwner)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		ui.Info(fmt.Sprintf("Creating user %q", c.flagOwner))
		if !c.flagDryRun {
			if owner, err = cat.CreateUser(ctx, c.flagOwner, c.flagFriendlyName, c.flagEmail); err != nil {
				ui.Error(err.Error())
				return 1
			}
		}
	case err != nil:
		ui.Error(fmt.Sprintf("error looking up user: %v", err))
		return 1
	}

	var imported, skipped, failures int
	for i, p := range paths {
		name := filepath.Base(p)
		if err := wopi.ValidateName(name); err != nil {
			ui.Error(fmt.Sprintf("%s: %v", p, err))
			failures++
			continue
		}

		if owner != nil {
			if _, err := cat.FindByName(ctx, owner.ID, name); err == nil {
				ui.Warn(fmt.Sprintf("[%d/%d] %s: %q already exists, skipping", i+1, len(paths), p, name))
				skipped++
				continue
			}
		}

		if c.flagDryRun {
			ui.Info(fmt.Sprintf("[%d/%d] would import %s as %q", i+1, len(paths), p, name))
			imported++
			continue
		}

		info, err := importFile(ctx, cat.CreateFile, c.flagOwner, name, p)
		if err != nil {
			ui.Error(fmt.Sprintf("%s: %v", p, err))
			failures++
			continue
		}
		imported++

		if c.flagVerbose {
			ui.Info(fmt.Sprintf("[%d/%d] %s -> %s (%d bytes)", i+1, len(paths), p, info.ID, info.Size))
		}
	}

	// Final summary.
	ui.Info("")
	ui.Info("=== Summary ===")
	if c.flagDryRun {
		ui.Info(fmt.Sprintf("Would import: %d files", imported))
	} else {
		ui.Info(fmt.Sprintf("Imported: %d files", imported))
	}
	if skipped > 0 {
		ui.Info(fmt.Sprintf("Skipped: %d files", skipped))
	}
	if failures > 0 {
		ui.Error(fmt.Sprintf("Errors encountered: %d", failures))
		return 1
	}
	return 0
}

func importFile(
	ctx context.Context,
	create func(ctx context.Context, owner, name string, r io.Reader) (*storage.FileInfo, error),
	owner, name, path string,
) (*storage.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return create(ctx, owner, name, f)
}
