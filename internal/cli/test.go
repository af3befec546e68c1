package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wem-technology/ios-webxr-sub000/internal/harness"
	"github.com/wem-technology/ios-webxr-sub000/internal/store"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string
	Record    bool // save scenario recordings to the store
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "missing"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scripted session scenarios",
		Long: `Run YAML session scenarios and check their assertions and traces.

Each scenario drives an emulated device and session tick by tick. When a
golden file exists for a scenario its trace must match byte for byte; golden
files live in a "golden" directory next to the scenarios directory unless
--golden-dir says otherwise.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  xrsim test ./testdata/scenarios
  xrsim test ./testdata/scenarios --filter "hit_test_*"
  xrsim test ./testdata/scenarios --update
  xrsim test ./testdata/scenarios --record --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory (default: ../golden from the scenarios)")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "save each scenario's recording to the store")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(scenariosDir)), "golden")
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	var st *store.Store
	if opts.Record {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		if st, err = openRecordingStore(cfg.Store); err != nil {
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		defer st.Close()
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	if len(scenarioFiles) == 0 {
		if f.JSON() {
			return f.Success(result)
		}
		f.Printf("No scenarios found.\n")
		return nil
	}

	for _, scenarioFile := range scenarioFiles {
		r := runScenario(cmdContext(cmd), f, scenarioFile, goldenDir, opts, st)
		result.Scenarios = append(result.Scenarios, r)
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	var failure string
	if result.Failed > 0 {
		failure = fmt.Sprintf("%d scenario(s) failed", result.Failed)
	}
	if f.JSON() {
		if err := f.Result(result, ErrCodeScenario, failure); err != nil {
			return err
		}
	} else {
		f.Printf("\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		if failure == "" {
			f.Printf("✓ All scenarios passed\n")
		}
	}
	if failure != "" {
		return NewExitError(ExitFailure, failure)
	}
	return nil
}

// findScenarioFiles finds all YAML scenario files under dir.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario executes one scenario file: load, run, save the recording when
// asked, then check the golden trace and the assertions.
func runScenario(ctx context.Context, f *OutputFormatter, scenarioFile, goldenDir string, opts *TestOptions, st *store.Store) ScenarioResult {
	fail := func(name string, errs ...string) ScenarioResult {
		f.Printf("✗ %s\n", name)
		for _, e := range errs {
			f.Printf("  %s\n", e)
		}
		return ScenarioResult{Name: name, Errors: errs}
	}

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return fail(filepath.Base(scenarioFile), fmt.Sprintf("failed to load scenario: %v", err))
	}
	if st != nil {
		scenario.Record = true
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}

	if st != nil && result.Recording != nil && len(result.Recording.Frames) > 0 {
		if err := st.SaveRecording(ctx, scenario.Name, result.Recording); err != nil {
			return fail(scenario.Name, fmt.Sprintf("failed to save recording: %v", err))
		}
		f.VerboseLog("Saved recording %s (%d frames)", scenario.Name, len(result.Recording.Frames))
	}

	snapshot := harness.TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace, State: result.State}
	data, err := snapshot.Marshal()
	if err != nil {
		return fail(scenario.Name, fmt.Sprintf("failed to marshal trace: %v", err))
	}
	goldenPath := goldenFilePath(goldenDir, scenarioFile)

	golden := "missing"
	switch {
	case opts.Update:
		if err := writeGolden(goldenPath, data); err != nil {
			return fail(scenario.Name, fmt.Sprintf("failed to update golden file: %v", err))
		}
		golden = "updated"
	default:
		want, err := os.ReadFile(goldenPath)
		if err == nil {
			if !bytes.Equal(want, data) {
				return fail(scenario.Name, "trace does not match golden file (run with --update to regenerate)")
			}
			golden = "match"
		} else if !os.IsNotExist(err) {
			return fail(scenario.Name, fmt.Sprintf("failed to read golden file: %v", err))
		}
	}

	if !result.Pass {
		r := fail(scenario.Name, result.Errors...)
		r.Golden = golden
		return r
	}
	switch golden {
	case "updated":
		f.Printf("✓ %s (golden updated)\n", scenario.Name)
	default:
		f.Printf("✓ %s\n", scenario.Name)
	}
	return ScenarioResult{Name: scenario.Name, Pass: true, Golden: golden}
}

// goldenFilePath returns dir/<scenario file name>.golden.
func goldenFilePath(dir, scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
