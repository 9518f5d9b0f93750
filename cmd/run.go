package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/state"
)

const (
	PromptYes                 = "Yes"
	PromptNo                  = "No"
	PromptBack                = "back"
	PromptReportByCompanies   = "Report by companies"
	PromptManualApply         = "Apply to jobs in manual mode"
	PromptAppendToExcludeFile = "Append all jobs to exclude file"
	PromptJobsToFile          = "Dump jobs to file"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Start applying?",
	Items: []string{PromptYes, PromptNo, PromptReportByCompanies, PromptManualApply, PromptJobsToFile},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the job search in a browser and apply to the jobs found",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("user-id", "u", "", "id of the user to apply for")
	runCmd.Flags().StringP("site", "s", "", "job board: linkedin, indeed or glassdoor")
	runCmd.Flags().IntP("jobs", "n", 0, "number of applications to submit (0 means until quota or results run out)")
	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation if jobs were found")
	runCmd.Flags().BoolP("do-not-exclude-viewed", "f", false, "do not drop jobs already viewed in the stored run")
	runCmd.Flags().Bool("skip-applied-check", false, "do not ask the backend whether a job was already applied to")
	runCmd.Flags().Bool("headless", false, "run the browser without a window")
	runCmd.Flags().StringP("exclude-file", "e", "", "special file with jobs to exclude. Default is unset.")

	viper.BindPFlag("user-id", runCmd.Flags().Lookup("user-id"))
	viper.BindPFlag("site", runCmd.Flags().Lookup("site"))
	viper.BindPFlag("run.jobs-to-apply", runCmd.Flags().Lookup("jobs"))
	viper.BindPFlag("run.skip-applied-check", runCmd.Flags().Lookup("skip-applied-check"))
	viper.BindPFlag("browser.headless", runCmd.Flags().Lookup("headless"))
	viper.BindPFlag("filters.exclude-file", runCmd.Flags().Lookup("exclude-file"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the autoapply", zap.String("version", version), zap.String("site", config.Site))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if strings.TrimSpace(config.UserID) == "" {
		logger.Fatal("user id is required", zap.String("hint", "pass --user-id or set user-id in the configuration file"))
	}

	a, err := newApplication(ctx, config, logger, nil)
	if err != nil {
		logger.Fatal("preparing the run", zap.Error(err))
	}
	defer a.Close()

	if cmd.Flag("do-not-exclude-viewed").Value.String() == "true" {
		filtering.DisableByName(a.filters, "already_viewed", "disabled by flag")
	}

	for _, status := range filtering.Describe(a.filters) {
		fields := []zap.Field{zap.String("filter", status.Name), zap.Bool("enabled", status.Enabled)}
		if status.Reason != "" {
			fields = append(fields, zap.String("reason", status.Reason))
		}
		for key, value := range status.Details {
			fields = append(fields, zap.String(key, value))
		}
		logger.Debug("filter configured", fields...)
	}

	st, err := a.ctrl.Initialize(ctx, config.UserID)
	if err != nil {
		logger.Error("initializing the run", zap.Error(err))
		return
	}

	logger.Info("run initialized",
		zap.String("run_id", st.RunID),
		zap.String("plan", string(st.Plan.Type)),
		zap.Int("applications_used", st.Plan.ApplicationsUsed),
	)

	url, err := a.ctrl.OpenSearch(ctx)
	if err != nil {
		logger.Error("opening the search", zap.Error(err), zap.String("url", url))
		return
	}
	logger.Info("starting the search", zap.String("url", url))

	jobs, err := a.adapter.EnumerateJobs(ctx)
	if err != nil {
		logger.Warn("listing jobs", zap.Error(err))
	}

	if len(jobs) == 0 {
		logger.Info("exiting", zap.String("reason", "no jobs found"))
		return
	}

	action := PromptYes
	for {
		var err error
		if cmd.Flag("auto-approve").Value.String() == "false" {
			_, action, err = prompt.Run()
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
		}

		logger.Info("current list of jobs", zap.Int("count", len(jobs)))

		jobs, err = handleAction(ctx, action, a, logger, jobs)
		if err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, action string, a *application, logger *zap.Logger, jobs []state.JobRef) ([]state.JobRef, error) {
	switch action {
	case PromptYes:
		if err := automate(ctx, a, logger); err != nil {
			return jobs, err
		}
		return jobs, errExit
	case PromptNo:
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		if err := a.ctrl.Stop(ctx); err != nil {
			logger.Warn("stopping the run", zap.Error(err))
		}
		return jobs, errExit
	case PromptManualApply:
		return manualApply(ctx, a, logger, jobs)
	case PromptReportByCompanies:
		pretty, _ := json.MarshalIndent(reportByCompany(jobs), "", "  ")
		logger.Info(string(pretty), zap.Int("jobs count", len(jobs)))
		return jobs, nil
	case PromptJobsToFile:
		filename, err := dumpToTmpFile("jobs_*.yaml", jobs)
		if err != nil {
			return jobs, fmt.Errorf("dump jobs to file: %w", err)
		}
		logger.Info("dumping jobs to file", zap.String("filename", filename))
		return jobs, nil
	default:
		return jobs, fmt.Errorf("invalid action: %s", action)
	}
}

// automate runs the controller until it finishes. The first interrupt asks
// for a stop after the current job, a second one kills the process.
func automate(ctx context.Context, a *application, logger *zap.Logger) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCtx.Done():
			stop()
			logger.Info("stopping after the current job", zap.String("hint", "interrupt again to abort"))
			if err := a.ctrl.Stop(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("stopping the run", zap.Error(err))
			}
		case <-done:
		}
	}()

	status, err := a.ctrl.StartAutomation(ctx, 0)
	close(done)
	if err != nil {
		return fmt.Errorf("automation: %w", err)
	}

	st := a.ctrl.State()
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.String("message", st.Message),
		zap.Int("completed", st.Completed()),
		zap.Int("applications", len(st.Applications)),
		zap.Int("viewed", len(st.ViewedJobs)),
	)
	return nil
}

func manualApply(ctx context.Context, a *application, logger *zap.Logger, jobs []state.JobRef) ([]state.JobRef, error) {
	for {
		items := make([]string, 0, len(jobs)+2)
		for _, job := range jobs {
			items = append(items, fmt.Sprintf("%s %s / %s / %s", job.ID, job.Title, job.Company, job.URL))
		}

		excludeFile := viper.GetString("filters.exclude-file")
		if excludeFile != "" && len(jobs) != 0 {
			items = append(items, PromptAppendToExcludeFile)
		}

		jobPrompt := promptui.Select{
			Label: "Choose a job and press ENTER",
			Items: append(items, PromptBack),
		}

		_, selected, err := jobPrompt.Run()
		if err != nil {
			return jobs, err
		}

		switch selected {
		case PromptBack:
			return jobs, nil
		case PromptAppendToExcludeFile:
			excluded, err := filtering.LoadExcluded(excludeFile)
			if err != nil {
				return jobs, err
			}

			added := excluded.Append(jobs, time.Now().UTC())
			if err = excluded.ToFile(excludeFile); err != nil {
				return jobs, err
			}

			logger.Info("appended to exclude file", zap.String("filename", excludeFile), zap.Int("added", added))
			jobs = withoutJobs(jobs, excluded.IDs())
		default:
			jobID := strings.Split(selected, " ")[0]

			job, ok := findJob(jobs, jobID)
			if !ok {
				return jobs, fmt.Errorf("there is no such job id %s", jobID)
			}

			if err := applyOne(ctx, a, logger, job); err != nil {
				return jobs, err
			}

			jobs = withoutJobs(jobs, []string{jobID})
		}
	}
}

// applyOne opens job, starts its in-page application and lets the controller fill it.
func applyOne(ctx context.Context, a *application, base *zap.Logger, job state.JobRef) error {
	log := logger.WithFields(base, logger.JobFields(job.ID, job.Title, job.Company)...)
	defer func() {
		if err := a.adapter.ReturnToList(ctx); err != nil {
			log.Debug("returning to job list", zap.Error(err))
		}
	}()

	if err := a.adapter.OpenJob(ctx, job); err != nil {
		log.Warn("opening job", zap.Error(err))
		return nil
	}

	aff, found, err := a.adapter.DetectApplyAffordance(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("looking for apply control: %w", err)
	case !found:
		log.Warn("job has no apply control")
		return nil
	case a.adapter.IsExternalApplication(ctx, aff):
		log.Warn("job is applied to on an external site, skipping", zap.String("control", aff.Text))
		return nil
	}

	if err := a.adapter.StartApplication(ctx, aff); err != nil {
		log.Warn("starting application", zap.Error(err))
		return nil
	}

	result, err := a.ctrl.FillApplicationForm(ctx, job)
	switch {
	case errors.Is(err, state.ErrDuplicateApplication):
		log.Warn("job is already applied to in this run")
		return nil
	case err != nil:
		return err
	}

	log.Info("application processed",
		zap.String("status", string(result.Status)),
		zap.String("reason", result.Reason),
		zap.Int("steps", result.Steps),
	)
	return nil
}

func reportByCompany(jobs []state.JobRef) map[string][]string {
	report := make(map[string][]string)
	for _, job := range jobs {
		report[job.Company] = append(report[job.Company], job.Title)
	}
	for company := range report {
		sort.Strings(report[company])
	}
	return report
}

func findJob(jobs []state.JobRef, id string) (state.JobRef, bool) {
	for _, job := range jobs {
		if job.ID == id {
			return job, true
		}
	}
	return state.JobRef{}, false
}

func withoutJobs(jobs []state.JobRef, ids []string) []state.JobRef {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := make([]state.JobRef, 0, len(jobs))
	for _, job := range jobs {
		if _, ok := drop[job.ID]; !ok {
			kept = append(kept, job)
		}
	}
	return kept
}

func dumpToTmpFile(pattern string, v any) (string, error) {
	file, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := yaml.NewEncoder(file)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return file.Name(), enc.Close()
}
