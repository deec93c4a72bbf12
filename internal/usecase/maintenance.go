package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MaintenanceJob is a named, idempotent batch task run on a schedule.
type MaintenanceJob struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// MaintenanceJobs lists the cleanup jobs. Nil services are skipped.
func MaintenanceJobs(roles *RoleService, otps *OTPService, passwords *PasswordService, logins *LoginRiskService) []MaintenanceJob {
	var jobs []MaintenanceJob
	if roles != nil {
		jobs = append(jobs, MaintenanceJob{Name: "expired_roles", Run: roles.CleanupExpiredRoles})
	}
	if otps != nil {
		jobs = append(jobs, MaintenanceJob{Name: "expired_otps", Run: otps.CleanupExpired})
	}
	if passwords != nil {
		jobs = append(jobs, MaintenanceJob{Name: "breach_records", Run: passwords.PurgeBreachRecords})
	}
	if logins != nil {
		jobs = append(jobs, MaintenanceJob{Name: "login_history", Run: logins.PurgeLoginHistory})
	}
	return jobs
}

// RunMaintenanceJob executes job with a timeout and logs the outcome. Errors are logged, not returned.
func RunMaintenanceJob(ctx context.Context, job MaintenanceJob, timeout time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	removed, err := job.Run(ctx)
	if err != nil {
		logger.Error("maintenance job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	logger.Info("maintenance job finished",
		zap.String("job", job.Name),
		zap.Int("removed", removed),
		zap.Duration("elapsed", time.Since(started)),
	)
}
