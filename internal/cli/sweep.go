package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wavetp/kgraph/internal/config"
	"github.com/wavetp/kgraph/internal/engine"
	"github.com/wavetp/kgraph/internal/store"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep pass and exit",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng := engine.New(db, cfg.Retention)
	deleted, err := eng.SweepRules()
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	fmt.Printf("sweep complete: deleted %d rows\n", deleted)
	return nil
}
