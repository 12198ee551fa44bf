package store

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadPacked (re)reads the packed-refs snapshot from disk.
func (s *LocalStore) LoadPacked() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packed = make(map[string]ObjectID)
	compressed, err := os.ReadFile(filepath.Join(s.basePath, packedRefsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read packed refs: %w", err)
	}

	data, err := s.compressor.Decompress(compressed)
	if err != nil {
		return fmt.Errorf("failed to decompress packed refs: %w", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, name, ok := strings.Cut(line, " ")
		if !ok {
			return fmt.Errorf("malformed packed ref line %q", line)
		}
		s.packed[name] = ObjectID(id).Normalize()
	}
	s.cache.Clear()
	return sc.Err()
}

// Pack moves every loose, non-symbolic ref into the packed-refs snapshot and
// returns how many refs it packed.
func (s *LocalStore) Pack(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	refsDir := filepath.Join(s.basePath, "refs")
	var loose []string
	err := filepath.WalkDir(refsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		loose = append(loose, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan loose refs: %w", err)
	}

	var packed []string
	for _, name := range loose {
		content, _, err := s.read(name)
		if err != nil {
			return 0, err
		}
		if strings.HasPrefix(content, symrefPrefix) {
			continue
		}
		s.packed[name] = ObjectID(content).Normalize()
		packed = append(packed, name)
	}

	if err := s.writePacked(); err != nil {
		return 0, err
	}
	for _, name := range packed {
		path := s.refPath(name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to remove loose ref %s: %w", name, err)
		}
		s.pruneEmptyDirs(filepath.Dir(path))
	}
	return len(packed), nil
}

func (s *LocalStore) writePacked() error {
	names := make([]string, 0, len(s.packed))
	for name := range s.packed {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteString("# pack-refs\n")
	for _, name := range names {
		fmt.Fprintf(&buf, "%s %s\n", s.packed[name], name)
	}

	compressed, err := s.compressor.Compress(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to compress packed refs: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.basePath, packedRefsFile), compressed); err != nil {
		return fmt.Errorf("failed to write packed refs: %w", err)
	}
	return nil
}
