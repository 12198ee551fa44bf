package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/aweris/refguard/internal/compression"
)

// ErrInvalidRef is returned for names that cannot be stored as refs.
var ErrInvalidRef = errors.New("store: invalid ref name")

const (
	packedRefsFile = "packed-refs"
	symrefPrefix   = "ref: "
	maxSymrefDepth = 5
)

// LocalStore implements Store using the local filesystem.
//
// Storage layout (project-isolated):
//
//	basePath/project/
//	  HEAD              (optional, usually "ref: refs/heads/main")
//	  refs/heads/main   (plain text: "<id>")
//	  packed-refs       (zstd-compressed "<id> <name>" lines)
//
// Loose refs win over packed ones.
type LocalStore struct {
	basePath   string
	project    string
	cache      Cache
	compressor *compression.Compressor

	mu     sync.RWMutex
	packed map[string]ObjectID
}

func NewLocalStore(basePath, project string, cacheSize int, compressionLevel int, compressionEnabled bool) (*LocalStore, error) {
	if project == "" {
		return nil, errors.New("store: project name is required")
	}
	projectPath := filepath.Join(basePath, project)

	if err := os.MkdirAll(filepath.Join(projectPath, "refs"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", projectPath, err)
	}

	compressor, err := compression.NewCompressor(compressionLevel, compressionEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &LocalStore{
		basePath:   projectPath,
		project:    project,
		cache:      NewLRUCache(cacheSize),
		compressor: compressor,
	}
	if err := s.LoadPacked(); err != nil {
		compressor.Close()
		return nil, err
	}
	return s, nil
}

// Project returns the project this store holds.
func (s *LocalStore) Project() string {
	return s.project
}

func (s *LocalStore) Close() error {
	return s.compressor.Close()
}

// ValidateName checks that name can be stored as a ref.
func ValidateName(name string) error {
	switch {
	case name == "HEAD":
		return nil
	case !strings.HasPrefix(name, "refs/"),
		strings.HasSuffix(name, "/"),
		strings.HasSuffix(name, ".lock"),
		strings.Contains(name, ".."),
		strings.Contains(name, "//"),
		strings.ContainsAny(name, " :?*[\\^~\x7f"):
		return fmt.Errorf("%w: %q", ErrInvalidRef, name)
	}
	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("%w: %q", ErrInvalidRef, name)
		}
	}
	return nil
}

func (s *LocalStore) Ref(ctx context.Context, name string) (Ref, error) {
	if err := ValidateName(name); err != nil {
		return Ref{}, err
	}
	if ref, ok := s.cache.Get(name); ok {
		return ref, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, err := s.resolve(name, 0)
	if err != nil {
		return Ref{}, err
	}
	// Only filled under s.mu; writers clear entries after writing.
	if !ref.Symbolic() && ref.ID != ZeroID {
		s.cache.Add(ref)
	}
	return ref, nil
}

func (s *LocalStore) Refs(ctx context.Context, prefix string) ([]Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]struct{})
	for name := range s.packed {
		names[name] = struct{}{}
	}
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == packedRefsFile || strings.HasSuffix(rel, ".tmp") {
			return nil
		}
		names[rel] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list refs: %w", err)
	}

	var refs []Ref
	for name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		ref, err := s.resolve(name, 0)
		if err != nil {
			return nil, err
		}
		if ref.ID == ZeroID && !ref.Symbolic() {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (s *LocalStore) Update(ctx context.Context, u RefUpdate) (Result, error) {
	if err := ctx.Err(); err != nil {
		return NotAttempted, err
	}
	if err := ValidateName(u.Name); err != nil {
		return RejectedOther, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.leafName(u.Name)
	if err != nil {
		return IOFailure, err
	}
	cur, err := s.resolve(name, 0)
	if err != nil {
		return IOFailure, err
	}
	newID := u.NewID.Normalize()

	if u.ExpectedOld != nil && cur.ID != u.ExpectedOld.Normalize() {
		return LockFailure, nil
	}
	if newID == ZeroID {
		return s.deleteLocked(name, cur)
	}
	if cur.ID == newID {
		return NoChange, nil
	}
	if err := s.writeLoose(name, string(newID)); err != nil {
		return IOFailure, err
	}

	switch {
	case cur.ID == ZeroID:
		return New, nil
	case u.Force:
		return Forced, nil
	default:
		// Without an object graph every rewrite of an existing ref counts
		// as a fast-forward.
		return FastForward, nil
	}
}

func (s *LocalStore) Delete(ctx context.Context, name string, expectedOld *ObjectID) (Result, error) {
	if err := ctx.Err(); err != nil {
		return NotAttempted, err
	}
	if err := ValidateName(name); err != nil {
		return RejectedOther, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.leafName(name)
	if err != nil {
		return IOFailure, err
	}
	cur, err := s.resolve(name, 0)
	if err != nil {
		return IOFailure, err
	}
	if expectedOld != nil && cur.ID != expectedOld.Normalize() {
		return LockFailure, nil
	}
	return s.deleteLocked(name, cur)
}

func (s *LocalStore) deleteLocked(name string, cur Ref) (Result, error) {
	if cur.ID == ZeroID && !cur.Symbolic() {
		return NoChange, nil
	}
	if err := s.removeRef(name); err != nil {
		return IOFailure, err
	}
	return Forced, nil
}

func (s *LocalStore) Link(ctx context.Context, name, target string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return NotAttempted, err
	}
	for _, n := range []string{name, target} {
		if err := ValidateName(n); err != nil {
			return RejectedOther, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.resolve(name, 0)
	if err != nil {
		return IOFailure, err
	}
	if cur.Target == target {
		return NoChange, nil
	}
	if err := s.writeLoose(name, symrefPrefix+target); err != nil {
		return IOFailure, err
	}
	if cur.ID == ZeroID && !cur.Symbolic() {
		return New, nil
	}
	return Forced, nil
}

func (s *LocalStore) Rename(ctx context.Context, from, to string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return NotAttempted, err
	}
	for _, n := range []string{from, to} {
		if err := ValidateName(n); err != nil {
			return RejectedOther, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.resolve(from, 0)
	if err != nil {
		return IOFailure, err
	}
	if src.ID == ZeroID || src.Symbolic() {
		return RejectedOther, nil
	}
	dst, err := s.resolve(to, 0)
	if err != nil {
		return IOFailure, err
	}
	if dst.ID != ZeroID || dst.Symbolic() {
		return Rejected, nil
	}

	if err := s.writeLoose(to, string(src.ID)); err != nil {
		return IOFailure, err
	}
	if err := s.removeRef(from); err != nil {
		return IOFailure, err
	}
	return Renamed, nil
}

type appliedCommand struct {
	name     string
	previous ObjectID
}

// Batch executes cmds under the store lock. Like Update, commands on a
// symbolic ref write the ref it points at. Commands whose old value does not
// match get CmdLockFailure; unsupported types get CmdRejectedOther. In atomic
// mode one failure aborts the whole batch.
func (s *LocalStore) Batch(ctx context.Context, cmds []*Command, atomic bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	leaves := make([]string, len(cmds))
	failed := false
	for i, cmd := range cmds {
		name, ok := s.checkCommand(cmd)
		if !ok {
			failed = true
		}
		leaves[i] = name
	}
	if failed && atomic {
		for _, cmd := range cmds {
			if cmd.Result == CmdNotAttempted {
				cmd.SetResult(CmdRejectedOther, "transaction aborted")
			}
		}
		return nil
	}

	var applied []appliedCommand
	for i, cmd := range cmds {
		if cmd.Result != CmdNotAttempted {
			continue
		}
		if err := s.applyCommand(leaves[i], cmd); err != nil {
			cmd.SetResult(CmdRejectedOther, err.Error())
			if atomic {
				s.undo(applied)
				for _, other := range cmds {
					if other.Result == CmdOK || other.Result == CmdNotAttempted {
						other.SetResult(CmdRejectedOther, "transaction aborted")
					}
				}
			}
			return fmt.Errorf("batch %s: %w", cmd.RefName, err)
		}
		cmd.SetResult(CmdOK, "")
		applied = append(applied, appliedCommand{name: leaves[i], previous: cmd.OldID})
	}
	return nil
}

// checkCommand returns the ref cmd writes and whether it may be applied.
func (s *LocalStore) checkCommand(cmd *Command) (string, bool) {
	switch cmd.Type {
	case Create, Update, UpdateNonFastForward, Delete:
	default:
		cmd.SetResult(CmdRejectedOther, "unsupported command type "+cmd.Type.String())
		return cmd.RefName, false
	}
	if err := ValidateName(cmd.RefName); err != nil {
		cmd.SetResult(CmdRejectedOther, err.Error())
		return cmd.RefName, false
	}
	name, err := s.leafName(cmd.RefName)
	if err != nil {
		cmd.SetResult(CmdRejectedOther, err.Error())
		return cmd.RefName, false
	}
	cur, err := s.resolve(name, 0)
	if err != nil {
		cmd.SetResult(CmdRejectedOther, err.Error())
		return name, false
	}
	if cur.ID != cmd.OldID.Normalize() {
		cmd.SetResult(CmdLockFailure, "old value mismatch")
		return name, false
	}
	return name, true
}

func (s *LocalStore) applyCommand(name string, cmd *Command) error {
	if cmd.NewID.Normalize() == ZeroID {
		return s.removeRef(name)
	}
	return s.writeLoose(name, string(cmd.NewID))
}

func (s *LocalStore) undo(applied []appliedCommand) {
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		if a.previous.Normalize() == ZeroID {
			_ = s.removeRef(a.name)
			continue
		}
		_ = s.writeLoose(a.name, string(a.previous))
	}
}

// leafName follows symbolic refs to the ref an update should write.
func (s *LocalStore) leafName(name string) (string, error) {
	for i := 0; i < maxSymrefDepth; i++ {
		content, ok, err := s.read(name)
		if err != nil {
			return "", err
		}
		if !ok || !strings.HasPrefix(content, symrefPrefix) {
			return name, nil
		}
		name = strings.TrimPrefix(content, symrefPrefix)
	}
	return "", fmt.Errorf("symbolic ref %s nested too deeply", name)
}

func (s *LocalStore) resolve(name string, depth int) (Ref, error) {
	content, ok, err := s.read(name)
	if err != nil {
		return Ref{}, err
	}
	if !ok {
		return Ref{Name: name}, nil
	}
	if target, isSym := strings.CutPrefix(content, symrefPrefix); isSym {
		if depth >= maxSymrefDepth {
			return Ref{}, fmt.Errorf("symbolic ref %s nested too deeply", name)
		}
		leaf, err := s.resolve(target, depth+1)
		if err != nil {
			return Ref{}, err
		}
		return Ref{Name: name, ID: leaf.ID, Target: target}, nil
	}
	return Ref{Name: name, ID: ObjectID(content).Normalize()}, nil
}

// read returns the raw content of a ref, loose first then packed.
func (s *LocalStore) read(name string) (string, bool, error) {
	data, err := os.ReadFile(s.refPath(name))
	if err == nil {
		return strings.TrimSpace(string(data)), true, nil
	}
	if !os.IsNotExist(err) && !errors.Is(err, syscall.ENOTDIR) {
		return "", false, fmt.Errorf("failed to read ref %s: %w", name, err)
	}
	if id, ok := s.packed[name]; ok {
		return string(id), true, nil
	}
	return "", false, nil
}

func (s *LocalStore) writeLoose(name, content string) error {
	defer s.cache.Remove(name)
	if err := writeFileAtomic(s.refPath(name), []byte(content+"\n")); err != nil {
		return fmt.Errorf("failed to write ref %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) removeRef(name string) error {
	defer s.cache.Remove(name)

	path := s.refPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete ref %s: %w", name, err)
	}
	s.pruneEmptyDirs(filepath.Dir(path))

	if _, ok := s.packed[name]; ok {
		delete(s.packed, name)
		if err := s.writePacked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStore) pruneEmptyDirs(dir string) {
	stop := filepath.Join(s.basePath, "refs")
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// refPath returns the filesystem path for a ref.
func (s *LocalStore) refPath(name string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(name))
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
