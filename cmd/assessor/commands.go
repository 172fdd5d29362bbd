package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/assessor/internal/models"
	"github.com/xhad/assessor/internal/types"
	cfgPkg "github.com/xhad/assessor/pkg/config"
	"github.com/xhad/assessor/pkg/pipeline"
	"github.com/xhad/assessor/pkg/store"
	"github.com/xhad/assessor/server"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("submissions"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// spin keeps a spinner moving until the returned func is called.
func spin(bar *progressbar.ProgressBar) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Add(1)
			}
		}
	}()
	return func() {
		close(done)
		bar.Finish()
		fmt.Print("\n")
	}
}

var stageLabels = map[models.PipelineState]string{
	models.StateResearching: "Researching the question...",
	models.StateAnalyzing:   "Analyzing the answer...",
	models.StateGrading:     "Grading...",
}

func newOrchestrator(ctx context.Context, cfg *cfgPkg.Config, log zerolog.Logger) (*pipeline.Orchestrator, *pipeline.PipelineContext, error) {
	pc, err := pipeline.NewPipelineContext(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	return pipeline.New(pc, pipeline.ConfigFrom(cfg)), pc, nil
}

func readReference(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read reference material: %w", err)
	}
	return string(data), nil
}

func runAssess(ctx context.Context, cfg *cfgPkg.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("assess", flag.ExitOnError)
	prompt := fs.String("prompt", "", "Assignment question")
	reference := fs.String("reference", "", "File with reference material")
	lang := fs.String("lang", "", "Language hint for code submissions")
	student := fs.String("student", "", "Submitter recorded with the stored submission")
	asJSON := fs.Bool("json", false, "Print the full result as JSON")
	fs.Parse(args)

	if *prompt == "" || fs.NArg() != 1 {
		return errors.New("usage: assessor assess -prompt <question> [-reference file] [-lang language] [-student name] <file>")
	}
	path := fs.Arg(0)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read submission: %w", err)
	}
	ref, err := readReference(*reference)
	if err != nil {
		return err
	}

	orch, pc, err := newOrchestrator(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pc.Close()

	spinner := getSpinner(" Extracting submission...")
	stop := spin(spinner)
	observer := types.ObserverFunc(func(runID string, from, to models.PipelineState) {
		if label, ok := stageLabels[to]; ok {
			spinner.Describe(color.CyanString(" " + label))
		}
	})

	result, err := orch.Assess(ctx, pipeline.Submission{
		Raw:          raw,
		Filename:     filepath.Base(path),
		LanguageHint: *lang,
		Submitter:    *student,
	}, *prompt, pipeline.WithReferenceMaterial(ref), pipeline.WithObserver(observer))
	stop()
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(filepath.Base(path), result)
	return nil
}

func runBatch(ctx context.Context, cfg *cfgPkg.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	prompt := fs.String("prompt", "", "Assignment question")
	reference := fs.String("reference", "", "File with reference material")
	workers := fs.Int("workers", cfg.Pipeline.Workers, "Concurrent assessments")
	out := fs.String("out", "", "Write results as JSON lines to this file")
	fs.Parse(args)

	if *prompt == "" || fs.NArg() == 0 {
		return errors.New("usage: assessor batch -prompt <question> [-workers n] [-out file] <files...>")
	}
	ref, err := readReference(*reference)
	if err != nil {
		return err
	}

	items := make([]pipeline.BatchItem, 0, fs.NArg())
	names := make([]string, 0, fs.NArg())
	for _, path := range fs.Args() {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		items = append(items, pipeline.BatchItem{
			Submission:        pipeline.Submission{Raw: raw, Filename: filepath.Base(path)},
			Prompt:            *prompt,
			ReferenceMaterial: ref,
		})
		names = append(names, filepath.Base(path))
	}

	orch, pc, err := newOrchestrator(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pc.Close()

	color.Blue("\nAssessing %d submissions with %d workers\n", len(items), *workers)
	bar := getProgressBar(len(items), " Assessing...")
	observer := types.ObserverFunc(func(runID string, from, to models.PipelineState) {
		if to.Terminal() {
			bar.Add(1)
		}
	})

	results := orch.AssessBatch(ctx, items, *workers, pipeline.WithObserver(observer))
	bar.Finish()
	fmt.Print("\n")

	var sink *json.Encoder
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create %s: %w", *out, err)
		}
		defer f.Close()
		sink = json.NewEncoder(f)
	}

	failed := 0
	for i, r := range results {
		if r.Err != nil {
			failed++
			color.Red("✗ %s: %v", names[i], r.Err)
			continue
		}
		if r.Result.Status.State == models.StateFailed {
			failed++
		}
		printSummary(names[i], r.Result)
		if sink != nil {
			if err := sink.Encode(r.Result); err != nil {
				return fmt.Errorf("write results: %w", err)
			}
		}
	}

	if failed > 0 {
		color.Yellow("\n%d of %d submissions did not complete", failed, len(results))
	} else {
		color.Green("\n✓ All %d submissions assessed", len(results))
	}
	return nil
}

func runPurge(ctx context.Context, cfg *cfgPkg.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	olderThan := fs.Duration("older-than", 365*24*time.Hour, "Delete embeddings stored longer ago than this")
	fs.Parse(args)

	if *olderThan <= 0 {
		return errors.New("-older-than must be positive")
	}

	vs, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	defer vs.Close()

	cutoff := time.Now().Add(-*olderThan)
	n, err := vs.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	color.Green("✓ Removed %d embeddings stored before %s", n, cutoff.Format(time.RFC3339))
	return nil
}

func runServe(ctx context.Context, cfg *cfgPkg.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Server.Addr, "Listen address")
	fs.Parse(args)

	orch, pc, err := newOrchestrator(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pc.Close()

	srv := server.NewWSServer(orch, server.Config{Addr: *addr}, log.With().Str("component", "server").Logger())
	return srv.ListenAndServe(ctx)
}

func printResult(name string, r *models.AssessmentResult) {
	header := color.New(color.FgCyan, color.Bold).PrintfFunc()
	label := color.New(color.FgHiBlack).PrintfFunc()

	header("\n%s\n", name)
	label("Run:      ")
	fmt.Println(r.RunID)
	label("Status:   ")
	printStatus(r.Status)

	if r.Grade != nil {
		label("Grade:    ")
		color.New(color.Bold).Printf("%.0f (%s)\n", r.Grade.Score, r.Grade.Letter)
	}

	label("Similarity: ")
	if s := r.Plagiarism.SimilarityScore; s != nil {
		similarityColor(*s).Printf("%.2f\n", *s)
	} else {
		color.Yellow("unavailable")
	}
	for _, m := range r.Plagiarism.NearestMatches {
		label("  match ")
		fmt.Printf("%s  %.2f\n", m.DocumentID, m.Score)
	}

	label("AI generated: ")
	switch {
	case r.Plagiarism.AIGenerated == nil:
		color.Yellow("no verdict (%d tokens)", r.Plagiarism.AIFeatures.Tokens)
	case *r.Plagiarism.AIGenerated:
		color.Red("likely")
	default:
		color.Green("unlikely")
	}
	for _, reason := range r.Plagiarism.DegradedReasons {
		color.Yellow("  ! %s", reason)
	}

	if r.Analysis != nil {
		header("\nAnalysis\n")
		for _, f := range r.Analysis.Findings {
			label("%s: ", f.Topic)
			fmt.Println(f.Observation)
		}
	}
	if r.FeedbackText != "" {
		header("\nFeedback\n")
		fmt.Println(strings.TrimSpace(r.FeedbackText))
	}
}

func printSummary(name string, r *models.AssessmentResult) {
	grade := "-"
	if r.Grade != nil {
		grade = fmt.Sprintf("%.0f %s", r.Grade.Score, r.Grade.Letter)
	}
	similarity := "n/a"
	if s := r.Plagiarism.SimilarityScore; s != nil {
		similarity = fmt.Sprintf("%.2f", *s)
	}
	line := fmt.Sprintf("%-30s %-10s grade=%-6s similarity=%s", name, r.Status.String(), grade, similarity)
	if r.Status.State == models.StateCompleted {
		color.Green("✓ %s", line)
	} else {
		color.Red("✗ %s", line)
	}
}

func printStatus(s models.PipelineStatus) {
	if s.State == models.StateFailed {
		color.Red("%s: %s", s.String(), s.Reason)
		return
	}
	notes := []string{}
	if s.ResearchDegraded {
		notes = append(notes, "research degraded")
	}
	if s.PlagiarismDegraded {
		notes = append(notes, "screening degraded")
	}
	if len(notes) > 0 {
		color.Yellow("%s (%s)", s.String(), strings.Join(notes, ", "))
		return
	}
	color.Green("%s", s.String())
}

func similarityColor(score float64) *color.Color {
	switch {
	case score >= 90:
		return color.New(color.FgRed, color.Bold)
	case score >= 70:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}
