// Package schedule validates recurring run definitions and computes cron
// fire times. Purely functional; no side effects.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"promptplane/internal/errkind"
	"promptplane/internal/store"
)

// parser accepts standard 5-field cron expressions.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateExpr checks a cron expression.
func ValidateExpr(expr string) error {
	if expr == "" {
		return errkind.New(errkind.Validation, "cron schedule is required")
	}
	if _, err := parser.Parse(expr); err != nil {
		return errkind.Wrap(errkind.Validation, "invalid cron expression", err)
	}
	return nil
}

// Validate rejects malformed scheduled-task definitions before they are
// persisted.
func Validate(task *store.ScheduledTask) error {
	if task.Name == "" {
		return errkind.New(errkind.Validation, "scheduled task name is required")
	}
	if task.InputFile == "" {
		return errkind.New(errkind.Validation, "scheduled task input file is required")
	}
	return ValidateExpr(task.Schedule)
}

// NextTimes returns the next n fire times of expr after now, ascending.
func NextTimes(expr string, n int) ([]time.Time, error) {
	return nextTimesFrom(expr, n, time.Now())
}

func nextTimesFrom(expr string, n int, from time.Time) ([]time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "invalid cron expression", err)
	}

	times := make([]time.Time, 0, n)
	at := from
	for i := 0; i < n; i++ {
		at = sched.Next(at)
		times = append(times, at)
	}
	return times, nil
}
