package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/manifest"
	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/flagx"
	"github.com/dustin/go-humanize"
)

type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveTask accepts a full task id or any unique prefix of one.
func (a *App) resolveTask(prefix string) (string, error) {
	var match string
	for _, t := range a.scheduler.List() {
		if t.ID == prefix {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("task prefix %q is ambiguous", prefix)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("task %s: %w", prefix, common.ErrNotFound)
	}
	return match, nil
}

func (a *App) taskArg(args []string, usage string) (string, error) {
	if len(args) != 1 {
		return "", usageError(usage)
	}
	return a.resolveTask(args[0])
}

func (a *App) Add(ctx context.Context, args []string) error {
	const usage = "add <manifest.yaml> [--priority N] [--force] [--compress]"
	fs := newFlagSet("add")
	priority := fs.Int("priority", 0, "task priority 1..10")
	force := fs.Bool("force", false, "fetch files already kept offline")
	compress := fs.Bool("compress", false, "compress text before sealing")
	pos, err := flagx.ParseInterleaved(fs, args)
	if err != nil || len(pos) != 1 {
		return usageError(usage)
	}

	m, err := manifest.Load(pos[0])
	if err != nil {
		return err
	}

	id, err := a.library.Download(ctx, m, models.EnqueueOptions{Priority: *priority, Force: *force, Compress: *compress})
	switch {
	case errors.Is(err, common.ErrTaskExists):
		fmt.Fprintf(a.out, "%s is already queued as task %s\n", m.Title, shortID(id))
		return nil
	case errors.Is(err, common.ErrAlreadyPresent):
		fmt.Fprintf(a.out, "Every file of %s is already offline, use --force to fetch again\n", m.Title)
		return nil
	case errors.Is(err, common.ErrOffline):
		return errors.New("offline, downloads can be queued once the connection is back")
	case err != nil:
		return err
	}

	fmt.Fprintf(a.out, "Queued %s: %d files, %s (task %s)\n", m.Title, len(m.Files), humanize.IBytes(uint64(m.TotalSize())), shortID(id))
	return nil
}

func statusLabel(t models.Task) string {
	if t.Status == models.StatusPaused && t.PauseReason != models.PauseNone {
		return fmt.Sprintf("paused (%s)", t.PauseReason)
	}
	if t.Status == models.StatusCompleted && len(t.Failures) > 0 {
		return fmt.Sprintf("completed (%d failed)", len(t.Failures))
	}
	return string(t.Status)
}

func (a *App) List(_ context.Context, _ []string) error {
	tasks := a.scheduler.List()
	if len(tasks) == 0 {
		fmt.Fprintln(a.out, "No download tasks.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tCOURSE\tSTATUS\tPROGRESS\tSIZE\tSPEED\tETA\tPRI")
	for _, t := range tasks {
		speed, eta := "-", "-"
		if t.Status.Active() && t.SpeedBps > 0 {
			speed = humanize.IBytes(uint64(t.SpeedBps)) + "/s"
			if t.ETA > 0 {
				eta = t.ETA.Round(time.Second).String()
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\t%s\t%s\t%d\n",
			shortID(t.ID), t.Title, statusLabel(t), t.Progress,
			humanize.IBytes(uint64(t.TotalBytes)), speed, eta, t.Priority)
	}
	return w.Flush()
}

func (a *App) Pause(_ context.Context, args []string) error {
	id, err := a.taskArg(args, "pause <task>")
	if err != nil {
		return err
	}
	if err := a.scheduler.Pause(id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Paused %s\n", shortID(id))
	return nil
}

func (a *App) Resume(_ context.Context, args []string) error {
	const usage = "resume <task> [--boost N]"
	fs := newFlagSet("resume")
	boost := fs.Int("boost", 0, "raise the task priority by N")
	pos, err := flagx.ParseInterleaved(fs, args)
	if err != nil {
		return usageError(usage)
	}
	id, err := a.taskArg(pos, usage)
	if err != nil {
		return err
	}
	if err := a.scheduler.Resume(id, *boost); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Resumed %s\n", shortID(id))
	return nil
}

func (a *App) Cancel(_ context.Context, args []string) error {
	const usage = "cancel <task> [--delete]"
	fs := newFlagSet("cancel")
	del := fs.Bool("delete", false, "delete partial downloads")
	pos, err := flagx.ParseInterleaved(fs, args)
	if err != nil {
		return usageError(usage)
	}
	id, err := a.taskArg(pos, usage)
	if err != nil {
		return err
	}
	if err := a.scheduler.Cancel(id, *del); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Cancelled %s\n", shortID(id))
	return nil
}

func (a *App) Retry(_ context.Context, args []string) error {
	id, err := a.taskArg(args, "retry <task>")
	if err != nil {
		return err
	}
	if err := a.scheduler.Retry(id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Retrying %s\n", shortID(id))
	return nil
}

func (a *App) Stats(ctx context.Context, _ []string) error {
	st, err := a.vault.Stats(ctx)
	if err != nil {
		return err
	}

	used := 0.0
	if st.Capacity > 0 {
		used = float64(st.TotalBytes) / float64(st.Capacity) * 100
	}
	fmt.Fprintf(a.out, "Vault: %s %s, %s of %s used (%.1f%%)\n",
		humanize.Comma(int64(st.TotalFiles)), pluralFiles(st.TotalFiles),
		humanize.IBytes(uint64(st.TotalBytes)), humanize.IBytes(uint64(st.Capacity)), used)

	types := make([]string, 0, len(st.ByContentType))
	for ct := range st.ByContentType {
		types = append(types, ct)
	}
	sort.Strings(types)

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, ct := range types {
		s := st.ByContentType[ct]
		fmt.Fprintf(w, "  %s\t%d %s\t%s\n", ct, s.Files, pluralFiles(s.Files), humanize.IBytes(uint64(s.Bytes)))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if e := st.OldestEntry; e != nil {
		fmt.Fprintf(a.out, "Oldest: %s (added %s)\n", e.ArtifactID, humanize.Time(e.CreatedAt))
	}
	if e := st.MostAccessedEntry; e != nil && e.AccessCount > 0 {
		fmt.Fprintf(a.out, "Most opened: %s (%d times)\n", e.ArtifactID, e.AccessCount)
	}
	return nil
}

func pluralFiles(n int) string {
	if n == 1 {
		return "file"
	}
	return "files"
}

func (a *App) Play(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("play <artifact>")
	}
	url, err := a.library.Play(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, url)
	return nil
}

func (a *App) Read(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("read <artifact>")
	}
	text, err := a.library.ReadText(ctx, args[0])
	if err != nil {
		return err
	}
	if _, err := a.out.Write(text); err != nil {
		return err
	}
	if len(text) > 0 && text[len(text)-1] != '\n' {
		fmt.Fprintln(a.out)
	}
	return nil
}

func (a *App) Remove(ctx context.Context, args []string) error {
	const usage = "remove <course> [--yes]"
	fs := newFlagSet("remove")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	pos, err := flagx.ParseInterleaved(fs, args)
	if err != nil || len(pos) != 1 {
		return usageError(usage)
	}
	courseID := pos[0]

	if !*yes && !confirm(a.reader, fmt.Sprintf("Remove course %s and every file kept offline for it?", courseID), a.out) {
		fmt.Fprintln(a.out, "Nothing removed.")
		return nil
	}

	n, err := a.library.RemoveCourse(ctx, courseID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Removed %d %s of %s\n", n, pluralFiles(n), courseID)
	return nil
}

func (a *App) Sweep(ctx context.Context, _ []string) error {
	res, err := a.vault.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sweep took %s: %d orphaned, %d of removed courses, %d aged out, %s freed",
		res.Duration.Round(time.Millisecond), res.Orphans, res.Stale, res.Aged, humanize.IBytes(uint64(res.FreedSize)))
	if res.Errors > 0 {
		fmt.Fprintf(a.out, ", %d errors", res.Errors)
	}
	fmt.Fprintln(a.out)
	return nil
}
