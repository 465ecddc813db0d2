package ops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aidawidget/aidawidget/internal/db/migrations"
	"github.com/aidawidget/aidawidget/internal/settings"
	fcolor "github.com/fatih/color"
)

// Usage above these percentages fails the host checks
const (
	diskWarnPercent   = 90.0
	memoryWarnPercent = 95.0
)

// Check is one diagnostic result
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Report collects the diagnostic checks in the order they ran
type Report struct {
	Checks []Check `json:"checks"`
}

func (rep *Report) add(name string, ok bool, format string, args ...interface{}) {
	rep.Checks = append(rep.Checks, Check{Name: name, OK: ok, Detail: fmt.Sprintf(format, args...)})
}

// Passed returns the number of successful checks
func (rep *Report) Passed() int {
	n := 0
	for _, c := range rep.Checks {
		if c.OK {
			n++
		}
	}
	return n
}

// Healthy reports whether every check passed
func (rep *Report) Healthy() bool {
	return rep.Passed() == len(rep.Checks)
}

// Get returns the check called name
func (rep *Report) Get(name string) (Check, bool) {
	for _, c := range rep.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Print writes the ✓/✗ report and a summary line
func (rep *Report) Print(w io.Writer) {
	ok := fcolor.New(fcolor.FgGreen)
	bad := fcolor.New(fcolor.FgRed)
	bold := fcolor.New(fcolor.Bold)

	bold.Fprintln(w, "AIDA Widget - Diagnostic")
	for _, c := range rep.Checks {
		if c.OK {
			ok.Fprintf(w, "✓ %s: %s\n", c.Name, c.Detail)
		} else {
			bad.Fprintf(w, "✗ %s: %s\n", c.Name, c.Detail)
		}
	}

	fmt.Fprintf(w, "\nPassed: %d/%d checks\n", rep.Passed(), len(rep.Checks))
	if rep.Healthy() {
		ok.Fprintln(w, "All diagnostic checks passed")
	} else {
		bad.Fprintln(w, "Some checks failed, run 'aidawidget fix' to repair")
	}
}

// Check names
const (
	CheckSchema   = "schema"
	CheckRecord   = "settings record"
	CheckValid    = "settings valid"
	CheckCache    = "cache"
	CheckUpstream = "upstream"
	CheckDisk     = "disk"
	CheckMemory   = "memory"
	CheckRuntime  = "runtime"
)

// Diagnose inspects the installation without changing it
func (r *Runtime) Diagnose(ctx context.Context) *Report {
	rep := &Report{}

	mm := migrations.NewMigrationManager(r.db, r.logger)
	if version, err := mm.GetCurrentVersion(); err != nil {
		rep.add(CheckSchema, false, "%v", err)
	} else {
		target := mm.GetTargetVersion()
		detail := fmt.Sprintf("version %d of %d", version, target)
		if history, err := mm.GetMigrationHistory(); err == nil && len(history) > 0 {
			last := history[len(history)-1]
			detail += fmt.Sprintf(", last %q applied %s", last.Description, last.AppliedAt.Format(time.RFC3339))
		}
		rep.add(CheckSchema, version == target, "%s", detail)
	}

	current, err := r.settings.Read(ctx)
	switch {
	case errors.Is(err, settings.ErrNotConfigured):
		rep.add(CheckRecord, false, "not configured, run 'aidawidget install'")
	case err != nil:
		rep.add(CheckRecord, false, "%v", err)
	default:
		rep.add(CheckRecord, true, "present")
		if verr := current.Validate(); verr != nil {
			rep.add(CheckValid, false, "%v", verr)
		} else {
			rep.add(CheckValid, true, "ok")
		}
	}

	if err := r.cache.Ping(ctx); err != nil {
		rep.add(CheckCache, false, "%s backend unreachable: %v", r.config.Cache.Backend, err)
	} else {
		rep.add(CheckCache, true, "%s backend reachable", r.config.Cache.Backend)
	}

	report := r.bridge.TestConnection(ctx, "")
	rep.add(CheckUpstream, report.Success, "%s (%s)", report.Message, r.cached.BaseURL(ctx))

	if d, err := r.system.GetDiskUsage(); err != nil {
		rep.add(CheckDisk, false, "%v", err)
	} else {
		rep.add(CheckDisk, d.UsedPercent < diskWarnPercent, "%.1f%% used in %s", d.UsedPercent, r.config.DataDir)
	}

	if m, err := r.system.GetMemoryUsage(); err != nil {
		rep.add(CheckMemory, false, "%v", err)
	} else {
		rep.add(CheckMemory, m.UsedPercent < memoryWarnPercent, "%.1f%% used", m.UsedPercent)
	}

	rs := r.system.GetRuntimeStats()
	rep.add(CheckRuntime, true, "%s, %d goroutines, %.1f MB heap", rs.GoVersion, rs.GoRoutines, rs.HeapAllocMB)

	return rep
}
