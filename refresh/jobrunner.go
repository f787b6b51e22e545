package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/utils"
	"github.com/sirupsen/logrus"
)

// DefaultJobTimeout is the wall-clock budget for one refresh job.
const DefaultJobTimeout = 10 * time.Minute

// maxCapturedOutput bounds the output and error text stored per job.
const maxCapturedOutput = 500

// JobSpec names one refresh job. Key resolves the source rules; Description
// doubles as the progress step label.
type JobSpec struct {
	Key         string
	Name        string
	Description string
}

// JobRunner executes one job and reports its outcome. Implementations never
// let a job fault escape as a panic or error; everything is folded into the
// returned result.
type JobRunner interface {
	RunJob(ctx context.Context, spec JobSpec) models.RefreshJobResult
}

// InProcessFunc is the body of an in-process job: it reconciles one source
// and returns the number of records processed.
type InProcessFunc func(ctx context.Context, spec JobSpec) (int, error)

// Runner supervises one job per call with a wall-clock timeout.
//
// When ExecPath is set, the job runs as a child process (cmd/etl-runner);
// hitting the timeout kills the process, so a hung job cannot hold resources.
// Otherwise the job runs on its own goroutine via Run; a timed-out goroutine
// is abandoned once its context is cancelled.
type Runner struct {
	Timeout  time.Duration
	ExecPath string
	Run      InProcessFunc
	Logger   *logrus.Logger
}

func NewRunner(execPath string, run InProcessFunc, logger *logrus.Logger) *Runner {
	return &Runner{
		Timeout:  jobTimeoutFromEnv(),
		ExecPath: execPath,
		Run:      run,
		Logger:   logger,
	}
}

// jobTimeoutFromEnv reads REFRESH_JOB_TIMEOUT_MINUTES, falling back to the
// default budget.
func jobTimeoutFromEnv() time.Duration {
	v := strings.TrimSpace(os.Getenv("REFRESH_JOB_TIMEOUT_MINUTES"))
	if v == "" {
		return DefaultJobTimeout
	}
	minutes, err := strconv.Atoi(v)
	if err != nil || minutes <= 0 {
		return DefaultJobTimeout
	}
	return time.Duration(minutes) * time.Minute
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultJobTimeout
}

func (r *Runner) RunJob(ctx context.Context, spec JobSpec) models.RefreshJobResult {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	var result models.RefreshJobResult
	if r.ExecPath != "" {
		result = r.runExec(jobCtx, spec)
	} else {
		result = r.runInProcess(jobCtx, spec)
	}

	result.Name = spec.Name
	result.Key = spec.Key
	result.Duration = time.Since(start).Seconds()

	if r.Logger != nil && !result.Success {
		r.Logger.WithFields(logrus.Fields{
			"module":   "refresh",
			"job":      spec.Key,
			"duration": result.Duration,
		}).Error(result.Error)
	}
	return result
}

func (r *Runner) timeoutResult() models.RefreshJobResult {
	return models.RefreshJobResult{
		Success: false,
		Error:   fmt.Sprintf("job execution timed out (>%s)", r.timeout()),
	}
}

// runExec runs the job as a child process and captures its output. The
// context deadline kills the process, never leaving it orphaned.
func (r *Runner) runExec(ctx context.Context, spec JobSpec) models.RefreshJobResult {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.ExecPath, "-job", spec.Key)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return r.timeoutResult()
	}
	if err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		if errMsg == "" {
			errMsg = err.Error()
		}
		return models.RefreshJobResult{
			Success: false,
			Error:   utils.TruncateString(errMsg, maxCapturedOutput),
		}
	}

	return models.RefreshJobResult{
		Success: true,
		Records: ExtractRecordCount(stdout.String()),
		Output:  utils.TruncateString(stdout.String(), maxCapturedOutput),
	}
}

type inProcessOutcome struct {
	records int
	err     error
}

// runInProcess runs the job body on its own goroutine so a hang cannot block
// timeout enforcement, and recovers any panic into a failure result.
func (r *Runner) runInProcess(ctx context.Context, spec JobSpec) models.RefreshJobResult {
	if r.Run == nil {
		return models.RefreshJobResult{Success: false, Error: "no job body configured"}
	}

	done := make(chan inProcessOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- inProcessOutcome{err: fmt.Errorf("job panicked: %v", rec)}
			}
		}()
		records, err := r.Run(ctx, spec)
		done <- inProcessOutcome{records: records, err: err}
	}()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			if errors.Is(outcome.err, context.DeadlineExceeded) {
				return r.timeoutResult()
			}
			return models.RefreshJobResult{
				Success: false,
				Error:   utils.TruncateString(outcome.err.Error(), maxCapturedOutput),
			}
		}
		return models.RefreshJobResult{Success: true, Records: outcome.records}
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return r.timeoutResult()
		}
		return models.RefreshJobResult{Success: false, Error: ctx.Err().Error()}
	}
}

var firstInteger = regexp.MustCompile(`\d+`)

// ExtractRecordCount scans free-text job output for a processed-record count:
// the first integer token on the first line mentioning "records" or "rows".
// Best-effort fallback for jobs that cannot report the count structurally.
func ExtractRecordCount(output string) int {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "records") && !strings.Contains(lower, "rows") {
			continue
		}
		if match := firstInteger.FindString(line); match != "" {
			n, err := strconv.Atoi(match)
			if err == nil {
				return n
			}
		}
	}
	return 0
}

// NewReconcilerRunner wires the standard in-process job body: resolve the
// source by key and reconcile it.
func NewReconcilerRunner(reconciler *Reconciler, execPath string, logger *logrus.Logger) *Runner {
	return NewRunner(execPath, func(ctx context.Context, spec JobSpec) (int, error) {
		rules, ok := SourceByKey(spec.Key)
		if !ok {
			return 0, fmt.Errorf("unknown refresh source: %s", spec.Key)
		}
		stats, err := reconciler.Reconcile(ctx, rules)
		if err != nil {
			return 0, err
		}
		return stats.RecordsProcessed(), nil
	}, logger)
}
