// Package reflog writes the audit trail of every interaction with the shared
// ref store.
package reflog

import (
	"context"
	"io"
	"log/slog"
)

// Type identifies an audit entry.
type Type string

const (
	UpdateRef     Type = "UPDATE_REF"
	DeleteRef     Type = "DELETE_REF"
	DeleteProject Type = "DELETE_PROJECT"
	LockAcquire   Type = "LOCK_ACQUIRE"
	LockRelease   Type = "LOCK_RELEASE"
)

// Logger records shared store interactions.
type Logger interface {
	LogRefUpdate(ctx context.Context, project, ref, oldID, newID string)
	LogProjectDelete(ctx context.Context, project string)
	LogLockAcquisition(ctx context.Context, project, ref string)
	LogLockRelease(ctx context.Context, project, ref string)
}

// JSON writes one JSON object per entry through a slog JSON handler.
type JSON struct {
	log *slog.Logger
}

// NewJSON returns a Logger writing to w.
func NewJSON(w io.Writer) *JSON {
	return &JSON{log: slog.New(slog.NewJSONHandler(w, nil))}
}

// New wraps an existing slog logger, for callers that route the audit trail
// into their own handler.
func New(log *slog.Logger) *JSON {
	return &JSON{log: log}
}

// LogRefUpdate records an UPDATE_REF entry, or DELETE_REF when newID is empty.
func (j *JSON) LogRefUpdate(ctx context.Context, project, ref, oldID, newID string) {
	if newID == "" {
		j.entry(ctx, DeleteRef, project,
			slog.String("refName", ref),
			slog.String("oldId", oldID))
		return
	}
	j.entry(ctx, UpdateRef, project,
		slog.String("refName", ref),
		slog.String("oldId", oldID),
		slog.String("newId", newID))
}

func (j *JSON) LogProjectDelete(ctx context.Context, project string) {
	j.entry(ctx, DeleteProject, project)
}

func (j *JSON) LogLockAcquisition(ctx context.Context, project, ref string) {
	j.entry(ctx, LockAcquire, project, slog.String("refName", ref))
}

func (j *JSON) LogLockRelease(ctx context.Context, project, ref string) {
	j.entry(ctx, LockRelease, project, slog.String("refName", ref))
}

func (j *JSON) entry(ctx context.Context, typ Type, project string, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{
		slog.String("type", string(typ)),
		slog.String("projectName", project),
	}, attrs...)
	j.log.LogAttrs(ctx, slog.LevelInfo, string(typ), attrs...)
}

// Discard drops every entry.
type Discard struct{}

func (Discard) LogRefUpdate(context.Context, string, string, string, string) {}
func (Discard) LogProjectDelete(context.Context, string)                     {}
func (Discard) LogLockAcquisition(context.Context, string, string)           {}
func (Discard) LogLockRelease(context.Context, string, string)               {}
