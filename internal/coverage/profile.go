// Package coverage reads Go coverage profiles and computes per-file
// and total statement coverage.
package coverage

import (
	"fmt"
	"sort"

	"golang.org/x/tools/cover"
)

// FileCoverage is the statement coverage of a single instrumented file.
type FileCoverage struct {
	Name       string
	Statements int
	Covered    int
}

// Percent returns covered statements as a percentage. A file with no
// statements counts as 0%.
func (f FileCoverage) Percent() float64 {
	if f.Statements == 0 {
		return 0
	}
	return float64(f.Covered) / float64(f.Statements) * 100
}

// Summary aggregates coverage over all files in a profile.
type Summary struct {
	Mode       string
	Files      []FileCoverage
	Statements int
	Covered    int
}

func (s *Summary) Percent() float64 {
	if s.Statements == 0 {
		return 0
	}
	return float64(s.Covered) / float64(s.Statements) * 100
}

// Load parses the profile at path and returns both the summary and the
// raw profiles for report rendering.
func Load(path string) (*Summary, []*cover.Profile, error) {
	profiles, err := cover.ParseProfiles(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse coverage profile %s: %w", path, err)
	}
	return Summarize(profiles), profiles, nil
}

// Summarize computes statement coverage per file and in total. Files
// are sorted by name. An empty profile yields a zero summary.
func Summarize(profiles []*cover.Profile) *Summary {
	s := &Summary{}
	for _, p := range profiles {
		if s.Mode == "" {
			s.Mode = p.Mode
		}
		fc := FileCoverage{Name: p.FileName}
		for _, b := range p.Blocks {
			fc.Statements += b.NumStmt
			if b.Count > 0 {
				fc.Covered += b.NumStmt
			}
		}
		s.Statements += fc.Statements
		s.Covered += fc.Covered
		s.Files = append(s.Files, fc)
	}
	sort.Slice(s.Files, func(i, j int) bool {
		return s.Files[i].Name < s.Files[j].Name
	})
	return s
}
