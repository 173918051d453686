package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/scheduler"
	"github.com/noah-isme/sma-timetable/internal/service"
	"github.com/noah-isme/sma-timetable/pkg/config"
	"github.com/noah-isme/sma-timetable/pkg/export"
	"github.com/noah-isme/sma-timetable/pkg/logger"
)

type renderer interface {
	RenderGrid(sheets []export.Sheet) ([]byte, error)
	RenderTable(table export.Table) ([]byte, error)
}

var renderers = map[string]renderer{
	"csv": export.NewCSVExporter(),
	"pdf": export.NewPDFExporter(),
}

func main() {
	var (
		datasetPath string
		outDir      string
		formats     string
		views       string
		budget      time.Duration
		seed        int64
		workers     int
		logLevel    string
		issueToken  string
		issueRole   string
	)
	flag.StringVar(&datasetPath, "dataset", "", "Dataset JSON file (as produced by scripts/gen_data)")
	flag.StringVar(&outDir, "out", "timetables", "Directory for exports and result.json")
	flag.StringVar(&formats, "format", "csv", "Comma separated export formats: csv, pdf")
	flag.StringVar(&views, "views", "teacher,group,room", "Comma separated views to export")
	flag.DurationVar(&budget, "budget", 0, "Search time budget (defaults to SCHEDULER_TIME_BUDGET)")
	flag.Int64Var(&seed, "seed", 0, "Random seed; zero picks one from the clock")
	flag.IntVar(&workers, "workers", 0, "Parallel search workers (defaults to SCHEDULER_WORKERS)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level")
	flag.StringVar(&issueToken, "issue-token", "", "Print a bearer token for this user id and exit")
	flag.StringVar(&issueRole, "role", string(models.RoleScheduler), "Role embedded in the issued token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if issueToken != "" {
		if err := printToken(cfg, issueToken, models.UserRole(strings.ToUpper(issueRole))); err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		return
	}

	logr, err := logger.NewConsole(logLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if datasetPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	opts, err := service.EngineOptions(cfg.Scheduler)
	if err != nil {
		logr.Fatal("invalid scheduler configuration", zap.Error(err))
	}
	if budget > 0 {
		opts.TimeBudget = budget
	}
	if workers > 0 {
		opts.Workers = workers
	}
	opts.Seed = seed

	data, err := readDataset(datasetPath)
	if err != nil {
		logr.Fatal("failed to read dataset", zap.String("path", datasetPath), zap.Error(err))
	}

	engine, err := scheduler.NewEngine(opts, logr)
	if err != nil {
		logr.Fatal("invalid engine options", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan := scheduler.BuildPlan(*data)
	logr.Info("solving",
		zap.Int("tasks", len(plan.Tasks)),
		zap.Int("required_hours", plan.TotalHours()),
		zap.Duration("budget", opts.TimeBudget),
		zap.Int("workers", opts.Workers),
	)
	result := engine.Solve(ctx, plan)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		logr.Fatal("failed to create output directory", zap.Error(err))
	}
	if err := writeJSON(filepath.Join(outDir, "result.json"), result); err != nil {
		logr.Fatal("failed to write result", zap.Error(err))
	}
	written, err := writeExports(outDir, opts.Grid, result.Assignments, splitList(views), splitList(formats))
	if err != nil {
		logr.Fatal("failed to write exports", zap.Error(err))
	}
	if len(result.Failures) > 0 {
		files, err := writeFailures(outDir, result.Failures, splitList(formats))
		if err != nil {
			logr.Fatal("failed to write unplaced tasks", zap.Error(err))
		}
		written = append(written, files...)
	}

	printSummary(result, written)
}

func readDataset(path string) (*models.Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data models.Dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &data, nil
}

func writeJSON(path string, value interface{}) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func writeExports(dir string, grid scheduler.Grid, assignments []scheduler.Assignment, views, formats []string) ([]string, error) {
	var written []string
	for _, name := range views {
		kind, err := scheduler.ParseViewKind(name)
		if err != nil {
			return written, err
		}
		keys := kind.Keys(assignments)
		if len(keys) == 0 {
			continue
		}
		sheets := make([]export.Sheet, 0, len(keys))
		for _, key := range keys {
			sheets = append(sheets, service.TimetableSheet(kind.Project(grid, assignments, key)))
		}
		for _, format := range formats {
			r, ok := renderers[strings.ToLower(format)]
			if !ok {
				return written, fmt.Errorf("unsupported format %q", format)
			}
			payload, err := r.RenderGrid(sheets)
			if err != nil {
				return written, fmt.Errorf("render %s %s: %w", kind, format, err)
			}
			path := filepath.Join(dir, fmt.Sprintf("%s.%s", kind, strings.ToLower(format)))
			if err := os.WriteFile(path, payload, 0o644); err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}
	return written, nil
}

func writeFailures(dir string, failures []scheduler.Failure, formats []string) ([]string, error) {
	table := service.FailureTable(failures)
	var written []string
	for _, format := range formats {
		format = strings.ToLower(format)
		r, ok := renderers[format]
		if !ok {
			return written, fmt.Errorf("unsupported format %q", format)
		}
		payload, err := r.RenderTable(table)
		if err != nil {
			return written, fmt.Errorf("render unplaced tasks %s: %w", format, err)
		}
		path := filepath.Join(dir, "unplaced."+format)
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printSummary(result *scheduler.Result, files []string) {
	s := result.Summary
	fmt.Printf("placed %d/%d hours, %d failed tasks, %d rooms used\n", s.PlacedHours, s.RequiredHours, s.FailedTasks, s.RoomsUsed)
	fmt.Printf("substitutions %d, extra sessions %d\n", s.Substitutions, s.ExtraSessions)
	fmt.Printf("attempts %d (best #%d, seed %d), %s, stopped: %s\n", s.Attempts, s.BestAttempt, s.Seed, s.Elapsed.Round(time.Millisecond), s.StopReason)
	for _, f := range result.Failures {
		fmt.Printf("  failed %s (%s, %dh, teacher %s): %s\n", f.Task.ID, f.Task.GroupID, f.Task.Hours, f.Task.TeacherID, f.Reason)
	}
	for _, path := range files {
		fmt.Println("wrote", path)
	}
}

func printToken(cfg *config.Config, userID string, role models.UserRole) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	tokens := service.NewTokenService(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.Expiration,
		Issuer: cfg.JWT.Issuer,
	})
	issued, err := tokens.Issue(userID, role, "", userID)
	if err != nil {
		return err
	}
	fmt.Println(issued.AccessToken)
	return nil
}
