// Command conclave runs the conclave floor simulation and its HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/conclave/internal/api"
	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/engine"
	"github.com/talgya/conclave/internal/entropy"
	"github.com/talgya/conclave/internal/persistence"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONCLAVE_CONFIG"), "path to a YAML or TOML config file")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Conclave floor simulation")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	dbPath := os.Getenv("CONCLAVE_DB")
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "conclave.db")
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)

	// ── Simulation ────────────────────────────────────────────────────
	rng := entropy.New(cfg.Seed)
	sim := engine.NewSimulation(cfg, rng)

	var startTick uint64
	if db.HasState() {
		slog.Info("found saved floor state, loading...")
		saved, err := db.LoadAgents()
		if err != nil {
			slog.Error("failed to load agents", "error", err)
			os.Exit(1)
		}
		day, period, err := db.LoadSession()
		if err != nil {
			slog.Error("failed to load session", "error", err)
			os.Exit(1)
		}
		if tickStr, err := db.GetMeta("last_tick"); err == nil {
			if t, err := strconv.ParseUint(tickStr, 10, 64); err == nil {
				startTick = t
			}
		}
		restored := sim.Restore(saved, day, period)
		slog.Info("floor state restored",
			"agents", restored,
			"saved", len(saved),
			"day", day,
			"period", period,
			"tick", humanize.Comma(int64(startTick)),
		)
	} else {
		slog.Info("no saved state found, starting fresh", "seed", rng.Seed())
	}
	sim.LastTick = startTick

	// ── Event journal ─────────────────────────────────────────────────
	journal := persistence.NewJournal(filepath.Join(cfg.DataDir, "journal"), sim.Session.ID.String())
	defer journal.Close()
	sim.OnEvent = func(e engine.Event) {
		if err := journal.SetSession(sim.Session.ID.String()); err != nil {
			slog.Warn("journal session switch failed", "error", err)
		}
		if err := journal.Write(e); err != nil {
			slog.Warn("journal write failed", "seq", e.Seq, "error", err)
		}
	}

	save := func(reason string) {
		start := time.Now()
		if err := db.SaveSnapshot(sim.Checkpoint()); err != nil {
			slog.Error("save failed", "reason", reason, "error", err)
			return
		}
		slog.Debug("save done", "reason", reason, "took", time.Since(start))
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(cfg.Tick)
	eng.SetTick(startTick)
	eng.SetSpeed(cfg.Speed)

	lastSave := time.Duration(0)
	eng.OnTick = func(tick uint64, dt time.Duration) {
		if sim.Step(tick, dt) {
			save("checkpoint")
			lastSave = sim.Elapsed()
			return
		}
		if cfg.SaveEvery > 0 && sim.Elapsed()-lastSave >= cfg.SaveEvery {
			save("periodic")
			lastSave = sim.Elapsed()
		}
		if tick%uint64(max(time.Minute/cfg.Tick, 1)) == 0 {
			st := sim.Status()
			slog.Info("floor",
				"tick", humanize.Comma(int64(tick)),
				"clock", st.Clock,
				"active", st.Active,
				"progress", st.Progress,
				"influence", humanize.Comma(int64(st.InfluenceSum)),
			)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	adminKey := os.Getenv("CONCLAVE_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("CONCLAVE_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}

	apiServer := &api.Server{
		Sim:      sim,
		Eng:      eng,
		DB:       db,
		Port:     cfg.APIPort,
		AdminKey: adminKey,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := sim.Status()
	fmt.Printf("\nThe conclave gathers: %s cardinals, %s.\n",
		humanize.Comma(int64(cfg.Orchestrator.NPCCount)), st.Clock)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	if startTick > 0 {
		fmt.Printf("Resuming from tick %s\n", humanize.Comma(int64(startTick)))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	sim.StartSession()
	started := time.Now()
	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API shutdown", "error", err)
	}

	// Final save on shutdown.
	slog.Info("final save...")
	save("shutdown")

	fmt.Printf("Simulation stopped (started %s). Floor state saved.\n", humanize.Time(started))
}
