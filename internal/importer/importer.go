package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cuongbtq/user-provisioner/internal/account"
	"github.com/cuongbtq/user-provisioner/internal/provision"
)

const (
	DefaultRole      = "subscriber"
	DefaultCoreGroup = "user-import-core"
	DefaultMetaGroup = "user-import-meta"
	DefaultMetaLead  = 60 * time.Second

	// maxProblems caps the per-row problems kept in a Report
	maxProblems = 200
)

var (
	// ErrEmptyCSV is returned when the input has no header row
	ErrEmptyCSV = errors.New("csv is empty")

	// ErrNoHeader is returned when the header row cannot be parsed or has no usable names
	ErrNoHeader = errors.New("csv header cannot be parsed")
)

// Scheduler is the delayed-task boundary: it stores payload for execution by
// hook at or after runAt and returns a job handle.
type Scheduler interface {
	Schedule(ctx context.Context, runAt int64, hook string, payload any, group string) (string, error)
}

// RowProblem describes a row that produced no job.
type RowProblem struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Report summarizes one enqueue run.
type Report struct {
	Kind      string       `json:"kind"`
	Group     string       `json:"group"`
	Rows      int          `json:"rows"`
	Scheduled int          `json:"scheduled"`
	Skipped   int          `json:"skipped"`
	NotFound  int          `json:"not_found"`
	Failed    int          `json:"failed"`
	DryRun    bool         `json:"dry_run,omitempty"`
	Limited   bool         `json:"limited,omitempty"`
	FirstRun  int64        `json:"first_run_at,omitempty"`
	LastRun   int64        `json:"last_run_at,omitempty"`
	Problems  []RowProblem `json:"problems,omitempty"`
}

func (r *Report) problem(line int, reason, detail string) {
	if len(r.Problems) >= maxProblems {
		return
	}
	r.Problems = append(r.Problems, RowProblem{Line: line, Reason: reason, Detail: detail})
}

func (r *Report) scheduled(runAt int64) {
	if r.Scheduled == 0 {
		r.FirstRun = runAt
	}
	r.LastRun = runAt
	r.Scheduled++
}

// Importer turns CSV files into scheduled jobs, one job per usable row.
type Importer struct {
	scheduler Scheduler
	finder    account.Finder
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Importer. finder is optional; when set, metadata rows are
// resolved to a user ID before scheduling and unknown users count as not found.
func New(scheduler Scheduler, finder account.Finder, logger *slog.Logger) *Importer {
	return &Importer{
		scheduler: scheduler,
		finder:    finder,
		logger:    logger,
		now:       time.Now,
	}
}

// ImportCore schedules one user-creation job per row. An error is returned
// only for problems with the file as a whole.
func (im *Importer) ImportCore(ctx context.Context, r io.Reader, opts Options) (*Report, error) {
	if opts.Role == "" {
		opts.Role = DefaultRole
	}
	if opts.Group == "" {
		opts.Group = DefaultCoreGroup
	}

	reader, idx, err := readHeader(r, opts.Delimiter)
	if err != nil {
		return nil, err
	}

	mapper, err := NewCoreMapper(idx, opts.Role)
	if err != nil {
		return nil, err
	}

	planner := NewPlanner(im.now(), 0, opts.Step)
	report := &Report{Kind: "core", Group: opts.Group, DryRun: opts.DryRun}
	sched := im.schedulerFor(opts)

	err = eachRow(ctx, reader, report, func(line int, row []string) bool {
		rec, skip := mapper.Map(row)
		if skip != SkipNone {
			report.Skipped++
			report.problem(line, string(skip), "")
			return true
		}

		im.schedule(ctx, sched, report, planner, line, provision.HookUserCreation, rec, opts.Group)
		return !reachedLimit(report, opts.Limit)
	})

	im.logReport(report, opts)
	return report, err
}

// ImportMeta schedules one metadata-update job per row.
func (im *Importer) ImportMeta(ctx context.Context, r io.Reader, opts Options) (*Report, error) {
	if opts.Group == "" {
		opts.Group = DefaultMetaGroup
	}
	if opts.MetaMode == "" {
		opts.MetaMode = MetaModeAllowList
	}

	reader, idx, err := readHeader(r, opts.Delimiter)
	if err != nil {
		return nil, err
	}

	mapper, err := NewMetaMapper(idx, MetaMapperOptions{
		Match:     opts.Match,
		IDColumn:  opts.IDColumn,
		Mode:      opts.MetaMode,
		AllowList: opts.AllowList,
	})
	if err != nil {
		return nil, err
	}

	lead := opts.Lead
	if opts.Now {
		lead = 0
	}
	planner := NewPlanner(im.now(), lead, opts.Step)
	report := &Report{Kind: "meta", Group: opts.Group, DryRun: opts.DryRun}
	sched := im.schedulerFor(opts)

	err = eachRow(ctx, reader, report, func(line int, row []string) bool {
		rec, skip := mapper.Map(row)
		if skip != SkipNone {
			report.Skipped++
			report.problem(line, string(skip), "")
			return true
		}
		// the worker applies stamped keys as they are
		rec.KeyMode = string(opts.MetaMode)

		if im.finder != nil {
			user, err := provision.ResolveUser(ctx, im.finder, rec)
			switch {
			case errors.Is(err, provision.ErrUserNotFound):
				report.NotFound++
				report.problem(line, "not_found", identifierOf(rec))
				return true
			case err != nil:
				report.Failed++
				report.problem(line, "lookup_failed", err.Error())
				im.logger.Warn("User lookup failed",
					slog.Int("line", line),
					slog.String("error", err.Error()),
				)
				return true
			}
			rec = provision.MetaRecord{UserID: user.ID, Meta: rec.Meta, KeyMode: rec.KeyMode}
		}

		im.schedule(ctx, sched, report, planner, line, provision.HookUserMeta, rec, opts.Group)
		return !reachedLimit(report, opts.Limit)
	})

	im.logReport(report, opts)
	return report, err
}

func (im *Importer) schedule(ctx context.Context, sched Scheduler, report *Report, planner *Planner, line int, hook string, payload any, group string) {
	runAt := planner.Next()

	handle, err := sched.Schedule(ctx, runAt, hook, payload, group)
	if err != nil || handle == "" {
		detail := "scheduler returned no handle"
		if err != nil {
			detail = err.Error()
		}
		report.Failed++
		report.problem(line, "schedule_failed", detail)
		im.logger.Warn("Failed to schedule row",
			slog.Int("line", line),
			slog.String("hook", hook),
			slog.String("error", detail),
		)
		return
	}

	report.scheduled(runAt)
}

func (im *Importer) schedulerFor(opts Options) Scheduler {
	if opts.DryRun {
		return &dryRunScheduler{logger: im.logger}
	}
	return im.scheduler
}

func (im *Importer) logReport(report *Report, opts Options) {
	im.logger.Info("Import finished",
		slog.String("kind", report.Kind),
		slog.String("group", report.Group),
		slog.Int("rows", report.Rows),
		slog.Int("scheduled", report.Scheduled),
		slog.Int("skipped", report.Skipped),
		slog.Int("not_found", report.NotFound),
		slog.Int("failed", report.Failed),
		slog.Bool("dry_run", opts.DryRun),
	)
}

func reachedLimit(report *Report, limit int) bool {
	if limit > 0 && report.Scheduled >= limit {
		report.Limited = true
		return true
	}
	return false
}

func identifierOf(rec provision.MetaRecord) string {
	switch {
	case rec.UserID > 0:
		return fmt.Sprintf("user_id=%d", rec.UserID)
	case rec.Login != "":
		return "login=" + rec.Login
	default:
		return "email=" + rec.Email
	}
}

// readHeader opens the CSV and indexes its header row.
func readHeader(r io.Reader, delimiter rune) (*csv.Reader, ColumnIndex, error) {
	if delimiter == 0 {
		delimiter = ','
	}

	reader := csv.NewReader(skipBOM(r))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ColumnIndex{}, ErrEmptyCSV
	}
	if err != nil {
		return nil, ColumnIndex{}, fmt.Errorf("%w: %v", ErrNoHeader, err)
	}

	idx := NewColumnIndex(header)
	if len(idx.positions) == 0 {
		return nil, ColumnIndex{}, fmt.Errorf("%w: no usable column names", ErrNoHeader)
	}

	return reader, idx, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM drops a leading UTF-8 byte order mark so a quoted first header
// still parses.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}
	return br
}

// eachRow feeds data rows to fn in file order until fn returns false, the
// input ends or ctx is done. Unparseable rows are skipped and reported.
func eachRow(ctx context.Context, reader *csv.Reader, report *Report, fn func(line int, row []string) bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				report.Rows++
				report.Skipped++
				report.problem(pe.StartLine, "unparseable", pe.Err.Error())
				continue
			}
			return fmt.Errorf("failed to read csv: %w", err)
		}

		report.Rows++
		line, _ := reader.FieldPos(0)
		if !fn(line, row) {
			return nil
		}
	}
}

// dryRunScheduler logs what would be scheduled and hands out synthetic handles.
type dryRunScheduler struct {
	logger *slog.Logger
	n      int
}

func (d *dryRunScheduler) Schedule(ctx context.Context, runAt int64, hook string, payload any, group string) (string, error) {
	d.n++
	d.logger.Debug("Dry run: job not scheduled",
		slog.Int64("run_at", runAt),
		slog.String("hook", hook),
		slog.String("group", group),
		slog.Any("payload", payload),
	)
	return fmt.Sprintf("dry-run-%d", d.n), nil
}
