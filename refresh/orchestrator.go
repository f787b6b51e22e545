package refresh

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/config"
	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AlreadyRunningError is returned when a refresh start is rejected because
// another execution is still running.
type AlreadyRunningError struct {
	ExecutionId int
	StartedBy   string
	StartedAt   time.Time
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("a data refresh is already running, started by %s at %s",
		e.StartedBy, e.StartedAt.Format("15:04"))
}

// FinishUpdate carries everything the orchestrator persists when an
// execution reaches a terminal state.
type FinishUpdate struct {
	Status                string
	CompletedAt           time.Time
	DurationSeconds       int
	ProgressPercentage    int
	CurrentStep           string
	TotalRecordsProcessed int
	ErrorMessage          string
	Jobs                  []models.RefreshJobResult
}

// ExecutionStore persists execution lifecycle transitions. CreateRunning must
// be linearizable with respect to concurrent callers: two simultaneous starts
// can never both succeed.
type ExecutionStore interface {
	CreateRunning(ctx context.Context, startedBy int) (*models.DataRefreshExecution, error)
	UpdateProgress(ctx context.Context, executionId int, progress int, step string) error
	Finish(ctx context.Context, executionId int, update FinishUpdate) error
}

// GormExecutionStore is the MySQL-backed store. The single-flight check runs
// inside a transaction that holds a named advisory lock, so the check and the
// insert are atomic even across instances.
type GormExecutionStore struct {
	DB *gorm.DB
}

// refreshLockName serializes start attempts across all instances.
// NOTE: GET_LOCK is connection-scoped, so acquire and release must happen on
// the same *gorm.DB connection as the check-and-create transaction.
const refreshLockName = "data_refresh"

// errRefreshLockBusy means another instance held the advisory lock past the
// wait window. That instance is mid-start, so callers translate this into the
// same conflict a committed running row would produce.
var errRefreshLockBusy = errors.New("timed out waiting for the data refresh lock")

func acquireRefreshLock(conn *gorm.DB) error {
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 10)", refreshLockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return errRefreshLockBusy
	}
	return nil
}

func releaseRefreshLock(conn *gorm.DB) {
	var ok int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", refreshLockName).Scan(&ok).Error
}

func (s *GormExecutionStore) CreateRunning(ctx context.Context, startedBy int) (*models.DataRefreshExecution, error) {
	// Redis lock is a best-effort optimization across instances.
	// Reliability must not depend on Redis: the MySQL advisory lock below is
	// the authoritative guard.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, refreshLockName, 30*time.Second, nil)
		if err == nil {
			defer lock.Release(context.Background())
		} else if err != redislock.ErrNotObtained {
			// Redis unavailable: fall through to the advisory lock.
			config.LogError(config.GetLogger(), "refresh", "CreateRunning", "redislock.Obtain", nil, err)
		}
	}

	var execution *models.DataRefreshExecution
	err := s.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := acquireRefreshLock(conn); err != nil {
			return err
		}
		defer releaseRefreshLock(conn)

		return conn.Transaction(func(tx *gorm.DB) error {
			var running models.DataRefreshExecution
			err := tx.Where("status = ?", models.RefreshStatusRunning).Take(&running).Error
			if err == nil {
				return conflictForExecution(tx, running)
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			execution = &models.DataRefreshExecution{
				Status:      models.RefreshStatusRunning,
				StartedBy:   startedBy,
				StartedAt:   time.Now().UTC(),
				CurrentStep: "Initializing data refresh...",
			}
			return tx.Create(execution).Error
		})
	})
	if errors.Is(err, errRefreshLockBusy) {
		return nil, s.lockBusyConflict(ctx)
	}
	if err != nil {
		return nil, err
	}
	return execution, nil
}

// conflictForExecution builds the conflict reported for a running execution,
// resolving the starter's display name when the user row still exists.
func conflictForExecution(db *gorm.DB, running models.DataRefreshExecution) *AlreadyRunningError {
	conflict := &AlreadyRunningError{
		ExecutionId: running.ID,
		StartedAt:   running.StartedAt,
		StartedBy:   "Unknown",
	}
	if starter, err := models.GetUserById(db, running.StartedBy); err == nil {
		conflict.StartedBy = starter.DisplayName
	}
	return conflict
}

// lockBusyConflict covers the lock-wait expiry case. The competing start may
// not have committed its row yet, so fall back to placeholder fields.
func (s *GormExecutionStore) lockBusyConflict(ctx context.Context) *AlreadyRunningError {
	var running models.DataRefreshExecution
	err := s.DB.WithContext(ctx).Where("status = ?", models.RefreshStatusRunning).Take(&running).Error
	if err != nil {
		return &AlreadyRunningError{StartedBy: "Unknown", StartedAt: time.Now().UTC()}
	}
	return conflictForExecution(s.DB, running)
}

func (s *GormExecutionStore) UpdateProgress(ctx context.Context, executionId int, progress int, step string) error {
	return s.DB.WithContext(ctx).Model(&models.DataRefreshExecution{}).
		Where("id = ?", executionId).
		Updates(map[string]interface{}{
			"progress_percentage": progress,
			"current_step":        step,
		}).Error
}

func (s *GormExecutionStore) Finish(ctx context.Context, executionId int, update FinishUpdate) error {
	values := map[string]interface{}{
		"status":                  update.Status,
		"completed_at":            update.CompletedAt,
		"duration_seconds":        update.DurationSeconds,
		"progress_percentage":     update.ProgressPercentage,
		"current_step":            update.CurrentStep,
		"total_records_processed": update.TotalRecordsProcessed,
		"details_json":            models.EncodeRefreshDetails(update.Jobs),
	}
	if update.ErrorMessage != "" {
		values["error_message"] = update.ErrorMessage
	}
	return s.DB.WithContext(ctx).Model(&models.DataRefreshExecution{}).
		Where("id = ?", executionId).
		Updates(values).Error
}

// Final step labels, mirrored by the status endpoint and the frontend.
const (
	stepAllSourcesRefreshed = "All data sources refreshed successfully"
	stepSomeSourcesFailed   = "Some data sources failed"
)

// Orchestrator owns the refresh lifecycle: single-flight start, sequential
// job execution, progress persistence and broadcast, and terminal-state
// aggregation.
type Orchestrator struct {
	Store       ExecutionStore
	Runner      JobRunner
	Broadcaster *Broadcaster
	Jobs        []JobSpec
	Logger      *logrus.Logger
}

func NewOrchestrator(store ExecutionStore, runner JobRunner, broadcaster *Broadcaster, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		Store:       store,
		Runner:      runner,
		Broadcaster: broadcaster,
		Jobs:        DefaultJobs(),
		Logger:      logger,
	}
}

// Start creates a new running execution and launches the job pipeline in the
// background. Returns *AlreadyRunningError when one is in flight.
func (o *Orchestrator) Start(ctx context.Context, startedBy int, startedByName string) (*models.DataRefreshExecution, error) {
	execution, err := o.Store.CreateRunning(ctx, startedBy)
	if err != nil {
		return nil, err
	}

	o.Broadcaster.Broadcast(Event{
		Type:        EventStarted,
		ExecutionId: execution.ID,
		Status:      models.RefreshStatusRunning,
		StartedBy:   startedByName,
		StartedAt:   execution.StartedAt.Format(time.RFC3339),
	})

	// The pipeline outlives the HTTP request that triggered it.
	go o.run(context.Background(), execution)

	return execution, nil
}

func (o *Orchestrator) run(ctx context.Context, execution *models.DataRefreshExecution) {
	defer func() {
		if rec := recover(); rec != nil {
			o.fail(ctx, execution, fmt.Errorf("refresh pipeline panicked: %v", rec))
		}
	}()

	total := len(o.Jobs)
	results := make([]models.RefreshJobResult, 0, total)
	totalRecords := 0

	for idx, job := range o.Jobs {
		progress := progressPercentage(idx, total)
		if err := o.Store.UpdateProgress(ctx, execution.ID, progress, job.Description); err != nil {
			o.fail(ctx, execution, err)
			return
		}
		o.Broadcaster.Broadcast(Event{
			Type:               EventProgress,
			ExecutionId:        execution.ID,
			Status:             models.RefreshStatusRunning,
			ProgressPercentage: &progress,
			CurrentStep:        job.Description,
		})

		result := o.Runner.RunJob(ctx, job)
		results = append(results, result)
		totalRecords += result.Records
	}

	allSuccessful := true
	var failed []string
	for _, result := range results {
		if !result.Success {
			allSuccessful = false
			failed = append(failed, result.Name)
		}
	}

	status := models.RefreshStatusCompleted
	finalStep := stepAllSourcesRefreshed
	errorMessage := ""
	if !allSuccessful {
		status = models.RefreshStatusFailed
		finalStep = stepSomeSourcesFailed
		errorMessage = "Failed sources: " + strings.Join(failed, ", ")
	}

	completedAt := time.Now().UTC()
	update := FinishUpdate{
		Status:                status,
		CompletedAt:           completedAt,
		DurationSeconds:       int(completedAt.Sub(execution.StartedAt).Seconds()),
		ProgressPercentage:    100,
		CurrentStep:           finalStep,
		TotalRecordsProcessed: totalRecords,
		ErrorMessage:          errorMessage,
		Jobs:                  results,
	}
	if err := o.Store.Finish(ctx, execution.ID, update); err != nil {
		o.fail(ctx, execution, err)
		return
	}

	hundred := 100
	o.Broadcaster.Broadcast(Event{
		Type:                  EventComplete,
		ExecutionId:           execution.ID,
		Status:                status,
		ProgressPercentage:    &hundred,
		TotalRecordsProcessed: &totalRecords,
		Details:               &models.RefreshExecutionDetails{Jobs: results},
	})

	if o.Logger != nil {
		o.Logger.WithFields(logrus.Fields{
			"module":       "refresh",
			"executionId":  execution.ID,
			"status":       status,
			"totalRecords": totalRecords,
			"duration":     update.DurationSeconds,
		}).Info("data refresh finished")
	}
}

// fail forces the execution into the failed terminal state after an
// orchestration-level fault. An execution must never be left running.
func (o *Orchestrator) fail(ctx context.Context, execution *models.DataRefreshExecution, cause error) {
	completedAt := time.Now().UTC()
	update := FinishUpdate{
		Status:             models.RefreshStatusFailed,
		CompletedAt:        completedAt,
		DurationSeconds:    int(completedAt.Sub(execution.StartedAt).Seconds()),
		ProgressPercentage: 0,
		CurrentStep:        "Data refresh aborted",
		ErrorMessage:       cause.Error(),
	}
	if err := o.Store.Finish(ctx, execution.ID, update); err != nil && o.Logger != nil {
		config.LogError(o.Logger, "refresh", "fail", "Store.Finish", execution.ID, err)
	}

	o.Broadcaster.Broadcast(Event{
		Type:         EventError,
		ExecutionId:  execution.ID,
		Status:       models.RefreshStatusFailed,
		ErrorMessage: cause.Error(),
	})

	if o.Logger != nil {
		config.LogError(o.Logger, "refresh", "run", "orchestration fault", execution.ID, cause)
	}
}

// progressPercentage reports completion before job completedJobs+1 runs.
func progressPercentage(completedJobs, totalJobs int) int {
	if totalJobs == 0 {
		return 100
	}
	return int(math.Round(float64(completedJobs) / float64(totalJobs) * 100))
}
