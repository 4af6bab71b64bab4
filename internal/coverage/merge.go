package coverage

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"golang.org/x/tools/cover"
)

// blockKey identifies a profile block independently of its count.
// Profiles produced from the same build share block boundaries, so
// (file, span, numstmt) is a stable identity across runs.
type blockKey struct {
	file                string
	startLine, startCol int
	endLine, endCol     int
	numStmt             int
}

// Merge combines several coverage profiles into one. All inputs must
// share the same mode. In set mode counts are OR'd; in count and
// atomic modes they are summed.
func Merge(paths []string) ([]*cover.Profile, error) {
	if len(paths) < 2 {
		return nil, fmt.Errorf("merge requires at least two profiles, got %d", len(paths))
	}

	mode := ""
	counts := make(map[blockKey]int)
	for _, path := range paths {
		profiles, err := cover.ParseProfiles(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse coverage profile %s: %w", path, err)
		}
		for _, p := range profiles {
			if mode == "" {
				mode = p.Mode
			} else if p.Mode != mode {
				return nil, fmt.Errorf("profile %s has mode %q, want %q", path, p.Mode, mode)
			}
			for _, b := range p.Blocks {
				key := blockKey{
					file:      p.FileName,
					startLine: b.StartLine, startCol: b.StartCol,
					endLine: b.EndLine, endCol: b.EndCol,
					numStmt: b.NumStmt,
				}
				if mode == "set" {
					if b.Count > 0 {
						counts[key] = 1
					} else if _, ok := counts[key]; !ok {
						counts[key] = 0
					}
				} else {
					counts[key] += b.Count
				}
			}
		}
	}

	byFile := make(map[string][]cover.ProfileBlock)
	for key, count := range counts {
		byFile[key.file] = append(byFile[key.file], cover.ProfileBlock{
			StartLine: key.startLine, StartCol: key.startCol,
			EndLine: key.endLine, EndCol: key.endCol,
			NumStmt: key.numStmt,
			Count:   count,
		})
	}

	names := make([]string, 0, len(byFile))
	for name := range byFile {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make([]*cover.Profile, 0, len(names))
	for _, name := range names {
		blocks := byFile[name]
		sort.Slice(blocks, func(i, j int) bool {
			if blocks[i].StartLine != blocks[j].StartLine {
				return blocks[i].StartLine < blocks[j].StartLine
			}
			return blocks[i].StartCol < blocks[j].StartCol
		})
		merged = append(merged, &cover.Profile{FileName: name, Mode: mode, Blocks: blocks})
	}
	return merged, nil
}

// WriteProfiles writes profiles back out in the standard coverprofile
// text format.
func WriteProfiles(w io.Writer, profiles []*cover.Profile) error {
	if len(profiles) == 0 {
		return fmt.Errorf("no profiles to write")
	}
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "mode: %s\n", profiles[0].Mode); err != nil {
		return err
	}
	for _, p := range profiles {
		for _, b := range p.Blocks {
			_, err := fmt.Fprintf(bw, "%s:%d.%d,%d.%d %d %d\n",
				p.FileName, b.StartLine, b.StartCol, b.EndLine, b.EndCol, b.NumStmt, b.Count)
			if err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
