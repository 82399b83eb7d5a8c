// Command stockpile-inspect prints the committed inventories held by the
// configured store and can export them as a checkpoint to the configured archive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"stockpile/internal/archive"
	"stockpile/internal/config"
	"stockpile/internal/core"
	"stockpile/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stockpile-inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		owner      string
		checkpoint bool
		driver     string
		sqlitePath string
	)
	fs.StringVar(&owner, "owner", "", "print only this player's inventory")
	fs.BoolVar(&checkpoint, "checkpoint", false, "export a checkpoint to the configured archive")
	fs.StringVar(&driver, "driver", "", "override STOCKPILE_STORAGE_DRIVER")
	fs.StringVar(&sqlitePath, "sqlite", "", "override STOCKPILE_SQLITE_PATH")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if driver != "" {
		cfg.StorageDriver = config.StorageDriver(driver)
	}
	if sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	if err := run(context.Background(), cfg, owner, checkpoint, stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "stockpile-inspect: %v\n", err)
		return 1
	}
	return 0
}

type report struct {
	Inventories []domain.InventoryRecord `json:"inventories"`
	Checkpoint  *archive.Info            `json:"checkpoint,omitempty"`
}

func run(ctx context.Context, cfg config.Config, owner string, checkpoint bool, stdout io.Writer) (err error) {
	svc, err := core.NewServiceFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var out report
	if owner != "" {
		rec, ok, err := svc.Committed(ctx, owner)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no committed inventory for %q", owner)
		}
		out.Inventories = []domain.InventoryRecord{rec}
	} else {
		out.Inventories, err = svc.Store().List(ctx)
		if err != nil {
			return err
		}
	}

	if checkpoint {
		arc, err := archive.Open(ctx, cfg.Archive())
		if err != nil {
			return err
		}
		info, err := svc.ExportCheckpoint(ctx, arc)
		if err != nil {
			return err
		}
		out.Checkpoint = &info
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
