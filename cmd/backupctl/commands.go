// Signalwatch - Signal Monitoring and Classification Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalwatch

package main

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

	"github.com/goccy/go-json"

	"github.com/tomtom215/signalwatch/internal/backup"
	"github.com/tomtom215/signalwatch/internal/catalog"
	"github.com/tomtom215/signalwatch/internal/models"
	"github.com/tomtom215/signalwatch/internal/restore"
	"github.com/tomtom215/signalwatch/internal/retention"
)

// errUsage reports a malformed command line; the flag set already printed help.
var errUsage = errors.New("usage")

// service is the part of backup.Manager the commands drive.
type service interface {
	CreateBackup(ctx context.Context, typ models.BackupType, opts backup.CreateOptions) (*models.BackupMetadata, error)
	ListBackups(ctx context.Context, f catalog.Filter) ([]*models.BackupMetadata, error)
	GetBackup(ctx context.Context, id string) (*models.BackupMetadata, error)
	VerifyBackup(ctx context.Context, id string) (*models.BackupMetadata, error)
	UploadBackup(ctx context.Context, id string) (*backup.UploadResult, error)
	Restore(ctx context.Context, backupID, target string, opts restore.Options) (*models.RestoreReport, error)
	EnforceRetention(ctx context.Context) (*retention.Result, error)
	PreviewRetention(ctx context.Context) (*retention.Selection, error)
	Stats(ctx context.Context) (*models.BackupStats, error)
}

type cli struct {
	svc  service
	out  io.Writer
	json bool
}

func (c *cli) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "create":
		return c.create(ctx, args)
	case "list":
		return c.list(ctx, args)
	case "show":
		return c.withID(args, "show", func(id string) error {
			rec, err := c.svc.GetBackup(ctx, id)
			if err != nil {
				return err
			}
			return c.printRecord(rec)
		})
	case "verify":
		return c.withID(args, "verify", func(id string) error {
			rec, err := c.svc.VerifyBackup(ctx, id)
			if err != nil {
				return err
			}
			return c.printRecord(rec)
		})
	case "upload":
		return c.withID(args, "upload", func(id string) error {
			result, err := c.svc.UploadBackup(ctx, id)
			if result != nil {
				if perr := c.printUpload(result); perr != nil {
					return perr
				}
			}
			return err
		})
	case "restore":
		return c.restore(ctx, args)
	case "retention":
		return c.enforce(ctx)
	case "preview":
		return c.preview(ctx)
	case "stats":
		return c.stats(ctx)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func (c *cli) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(c.out)
	typ := fs.String("type", "full", "Backup type: full, incremental or wal")
	parent := fs.String("parent", "", "Parent backup id (default: newest restorable member)")
	verify := fs.Bool("verify", false, "Verify after capture")
	upload := fs.Bool("upload", false, "Upload to every provider after capture")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	t, err := models.ParseBackupType(*typ)
	if err != nil {
		return err
	}
	rec, err := c.svc.CreateBackup(ctx, t, backup.CreateOptions{
		ParentID: *parent,
		Verify:   *verify,
		Upload:   *upload,
		Trigger:  backup.TriggerManual,
	})
	if rec != nil {
		if perr := c.printRecord(rec); perr != nil {
			return perr
		}
	}
	return err
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(c.out)
	typ := fs.String("type", "", "Only this backup type")
	status := fs.String("status", "", "Only this status")
	chain := fs.String("chain", "", "Only this chain id")
	limit := fs.Int("limit", 0, "Maximum number of records (0 = all)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	f := catalog.Filter{ChainID: *chain, Limit: *limit}
	if *typ != "" {
		t, err := models.ParseBackupType(*typ)
		if err != nil {
			return err
		}
		f.Types = []models.BackupType{t}
	}
	if *status != "" {
		f.Statuses = []models.BackupStatus{models.BackupStatus(*status)}
	}

	records, err := c.svc.ListBackups(ctx, f)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(records)
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tCHAIN\tSTATUS\tSIZE\tCREATED\tREMOTE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Type, shortID(r.ChainID), r.Status, humanBytes(r.SizeBytes),
			r.CreatedAt.Format(time.RFC3339), remoteList(r.RemoteLocations))
	}
	return tw.Flush()
}

func (c *cli) restore(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(c.out)
	overwrite := fs.Bool("overwrite", false, "Replace an existing target")
	verifyDB := fs.Bool("verify-db", false, "Run the database integrity check before installing")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(c.out, "usage: backupctl restore [-overwrite] [-verify-db] <id> <target>")
		return errUsage
	}

	report, err := c.svc.Restore(ctx, fs.Arg(0), fs.Arg(1), restore.Options{
		Overwrite:      *overwrite,
		VerifyDatabase: *verifyDB,
	})
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(report)
	}
	fmt.Fprintf(c.out, "Restored %s to %s (%s, %s)\n",
		report.BackupID, report.TargetPath, humanBytes(report.BytesWritten), report.Duration.Round(time.Millisecond))
	fmt.Fprintf(c.out, "Chain: %s\n", strings.Join(report.Chain, " -> "))
	if len(report.Downloaded) > 0 {
		fmt.Fprintf(c.out, "Downloaded: %s\n", strings.Join(report.Downloaded, ", "))
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(c.out, "Warning: %s\n", w)
	}
	return nil
}

func (c *cli) enforce(ctx context.Context) error {
	result, err := c.svc.EnforceRetention(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(result)
	}
	fmt.Fprintf(c.out, "Deleted %d backup(s)\n", len(result.Deleted))
	for _, r := range result.Deleted {
		fmt.Fprintf(c.out, "  %s\t%s\t%s\n", r.ID, r.Type, r.CreatedAt.Format(time.RFC3339))
	}
	for _, id := range result.Skipped {
		fmt.Fprintf(c.out, "Skipped chain %s (capture in progress)\n", id)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(c.out, "Warning: %s\n", w)
	}
	return nil
}

func (c *cli) preview(ctx context.Context) error {
	sel, err := c.svc.PreviewRetention(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(sel)
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tCHAIN\tMEMBERS\tSIZE\tNEWEST\tREASON")
	for _, group := range []struct {
		action    string
		decisions []retention.Decision
	}{{"delete", sel.Delete}, {"keep", sel.Keep}} {
		for _, d := range group.decisions {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
				group.action, d.Chain.ID, len(d.Chain.Members), humanBytes(d.Chain.SizeBytes),
				d.Chain.Newest.Format(time.RFC3339), d.Reason)
		}
	}
	return tw.Flush()
}

func (c *cli) stats(ctx context.Context) error {
	s, err := c.svc.Stats(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(s)
	}
	fmt.Fprintf(c.out, "Backups: %d in %d chain(s), %s\n", s.TotalBackups, s.Chains, humanBytes(s.TotalSizeBytes))
	for _, status := range sortedKeys(s.ByStatus) {
		fmt.Fprintf(c.out, "  %-12s %d\n", status, s.ByStatus[status])
	}
	if s.LatestFull != nil {
		fmt.Fprintf(c.out, "Latest full: %s\n", s.LatestFull.Format(time.RFC3339))
	}
	if s.LatestVerified != nil {
		fmt.Fprintf(c.out, "Latest verified: %s\n", s.LatestVerified.Format(time.RFC3339))
	}
	if s.OldestRestorable != nil {
		fmt.Fprintf(c.out, "Oldest restorable: %s\n", s.OldestRestorable.Format(time.RFC3339))
	}
	return nil
}

func (c *cli) withID(args []string, name string, fn func(id string) error) error {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintf(c.out, "usage: backupctl %s <id>\n", name)
		return errUsage
	}
	return fn(args[0])
}

func (c *cli) printRecord(r *models.BackupMetadata) error {
	if c.json {
		return c.printJSON(r)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Type:\t%s\n", r.Type)
	fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
	fmt.Fprintf(tw, "Chain:\t%s\n", r.ChainID)
	if r.ParentID != "" {
		fmt.Fprintf(tw, "Parent:\t%s\n", r.ParentID)
	}
	fmt.Fprintf(tw, "Compression:\t%s\n", r.Compression)
	fmt.Fprintf(tw, "Size:\t%s\n", humanBytes(r.SizeBytes))
	fmt.Fprintf(tw, "Checksum:\t%s\n", r.Checksum)
	fmt.Fprintf(tw, "Path:\t%s\n", r.LocalPath)
	fmt.Fprintf(tw, "Created:\t%s\n", r.CreatedAt.Format(time.RFC3339))
	if r.VerifiedAt != nil {
		fmt.Fprintf(tw, "Verified:\t%s\n", r.VerifiedAt.Format(time.RFC3339))
	}
	if len(r.RemoteLocations) > 0 {
		fmt.Fprintf(tw, "Remote:\t%s\n", remoteList(r.RemoteLocations))
	}
	if r.FailureReason != "" {
		fmt.Fprintf(tw, "Failure:\t%s\n", r.FailureReason)
	}
	return tw.Flush()
}

func (c *cli) printUpload(r *backup.UploadResult) error {
	if c.json {
		return c.printJSON(r)
	}
	for _, p := range sortedKeys(r.Uploaded) {
		fmt.Fprintf(c.out, "%s\tok\t%s\n", p, r.Uploaded[p])
	}
	for _, p := range sortedKeys(r.Failed) {
		fmt.Fprintf(c.out, "%s\tfailed\t%s\n", p, r.Failed[p])
	}
	fmt.Fprintf(c.out, "Status: %s\n", r.Status)
	return nil
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func remoteList(m map[models.CloudProvider]string) string {
	if len(m) == 0 {
		return "-"
	}
	keys := sortedKeys(m)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return strings.Join(out, ",")
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
