package jobs

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadledger/internal/config"
	"leadledger/internal/db"
	"leadledger/internal/ledger"
)

// Job run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrRunInProgress means a run for the same job and period has not finished.
// Scheduled runs treat this as a skip, not a failure.
var ErrRunInProgress = errors.New("job run already in progress")

var jobRunsTotal *prometheus.CounterVec

// InitPrometheusMetrics registers the job counters. Call once from main.
func InitPrometheusMetrics() {
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadledger",
			Name:      "job_runs_total",
			Help:      "Total scheduled job runs by job name and final status.",
		},
		[]string{"job", "status"},
	)
	prometheus.MustRegister(jobRunsTotal)
}

// Runner executes the scheduled batch jobs. Each run is independent, fully
// idempotent, and guarded against overlapping with an unfinished run for the
// same job and period via the job_runs table.
type Runner struct {
	DB  *gorm.DB
	Log *logrus.Logger
	Now func() time.Time

	StaleAfterDays int
}

// NewRunner wires a Runner with production defaults.
func NewRunner(gdb *gorm.DB, cfg *config.Config) *Runner {
	return &Runner{
		DB:             gdb,
		Log:            config.Logger(),
		Now:            time.Now,
		StaleAfterDays: cfg.StaleAfterDays,
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// begin opens a JobRun row, refusing when one is still running for the same
// job and period.
func (r *Runner) begin(jobName, period string) (*db.JobRun, error) {
	var run db.JobRun
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&db.JobRun{}).
			Where("job_name = ? AND period = ? AND status = ?", jobName, period, StatusRunning).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrRunInProgress
		}
		run = db.JobRun{
			JobName:   jobName,
			Period:    period,
			Status:    StatusRunning,
			StartedAt: r.now(),
		}
		return tx.Create(&run).Error
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// finish transitions the run from running to its final status. JobRun rows
// are never mutated after this.
func (r *Runner) finish(run *db.JobRun, processed int64, jobErr error) {
	now := r.now()
	status := StatusSuccess
	errText := ""
	if jobErr != nil {
		status = StatusFailed
		errText = jobErr.Error()
	}

	if err := r.DB.Model(run).Updates(map[string]interface{}{
		"status":            status,
		"finished_at":       now,
		"records_processed": processed,
		"error":             errText,
	}).Error; err != nil {
		r.Log.WithFields(logrus.Fields{"job": run.JobName, "period": run.Period}).
			WithError(err).Error("failed to finalize job run")
	}

	if jobRunsTotal != nil {
		jobRunsTotal.WithLabelValues(run.JobName, status).Inc()
	}

	entry := r.Log.WithFields(logrus.Fields{
		"job":               run.JobName,
		"period":            run.Period,
		"status":            status,
		"records_processed": processed,
		"duration_ms":       now.Sub(run.StartedAt).Milliseconds(),
	})
	if jobErr != nil {
		entry.WithError(jobErr).Error("job run failed")
	} else {
		entry.Info("job run finished")
	}
}

// StartAggregationWorker aggregates the previous completed week at startup,
// then once per day re-aggregates it so late-arriving events are folded in.
// Upserts make every rerun safe.
func (r *Runner) StartAggregationWorker() {
	go func() {
		if err := r.RunAggregationOnce(r.previousWeek()); err != nil && !errors.Is(err, ErrRunInProgress) {
			r.Log.WithError(err).Error("aggregation error (startup)")
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := r.RunAggregationOnce(r.previousWeek()); err != nil && !errors.Is(err, ErrRunInProgress) {
				r.Log.WithError(err).Error("aggregation error")
			}
		}
	}()
}

// StartStalenessWorker scans for stalled high-tier leads once at startup and
// then once per day.
func (r *Runner) StartStalenessWorker() {
	go func() {
		if err := r.RunStalenessOnce(r.now()); err != nil && !errors.Is(err, ErrRunInProgress) {
			r.Log.WithError(err).Error("staleness scan error (startup)")
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for t := range ticker.C {
			if err := r.RunStalenessOnce(t); err != nil && !errors.Is(err, ErrRunInProgress) {
				r.Log.WithError(err).Error("staleness scan error")
			}
		}
	}()
}

// previousWeek is the start of the week immediately before the current one.
func (r *Runner) previousWeek() time.Time {
	return ledger.WeekStart(r.now().AddDate(0, 0, -7))
}
