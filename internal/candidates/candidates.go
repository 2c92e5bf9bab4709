// Package candidates finds résumé files in the input directory and extracts their text.
package candidates

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	FormatText = ".txt"
	FormatPDF  = ".pdf"
	FormatDocx = ".docx"

	DefaultPattern = "cv*"
)

// formats lists supported extensions by preference: when two files share a
// stem only the first one in this order is evaluated.
var formats = []string{FormatText, FormatPDF, FormatDocx}

type Candidate struct {
	// Name is the file name, e.g. cv2.txt.
	Name string
	// Stem is the file name without extension. Output artifacts are named after it.
	Stem string
	Path string
	// Missing is set for expected candidates that have no file.
	Missing bool
}

type Candidates struct {
	Items []*Candidate
	// Shadowed holds files ignored because a preferred format with the same stem exists.
	Shadowed []string
}

// Discover lists every supported file in dir whose stem matches pattern,
// in natural order. Files named in exclude are skipped.
func Discover(dir, pattern string, exclude ...string) (*Candidates, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}

	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("candidate pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list candidates in %s: %w", dir, err)
	}

	byStem := make(map[string]*Candidate)
	shadowed := make([]string, 0)

	for _, entry := range entries {
		name := entry.Name()
		if slices.Contains(exclude, name) || !isRegularFile(filepath.Join(dir, name)) {
			continue
		}

		ext := strings.ToLower(filepath.Ext(name))
		if !IsSupported(ext) {
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if ok, _ := filepath.Match(pattern, stem); !ok {
			continue
		}

		candidate := &Candidate{Name: name, Stem: stem, Path: filepath.Join(dir, name)}

		existing, ok := byStem[stem]
		if !ok {
			byStem[stem] = candidate
			continue
		}

		if formatRank(candidate.Name) < formatRank(existing.Name) {
			byStem[stem] = candidate
			shadowed = append(shadowed, existing.Name)
		} else {
			shadowed = append(shadowed, candidate.Name)
		}
	}

	items := make([]*Candidate, 0, len(byStem))
	for _, c := range byStem {
		items = append(items, c)
	}

	slices.SortFunc(items, func(a, b *Candidate) int {
		return naturalCompare(a.Stem, b.Stem)
	})
	slices.Sort(shadowed)

	return &Candidates{Items: items, Shadowed: shadowed}, nil
}

// Expect builds the fixed list <prefix>1..<prefix>n. Indexes without a
// supported file are returned with Missing set.
func Expect(dir, prefix string, n int) *Candidates {
	items := make([]*Candidate, 0, n)

	for i := 1; i <= n; i++ {
		stem := fmt.Sprintf("%s%d", prefix, i)

		candidate := &Candidate{
			Name:    stem + FormatText,
			Stem:    stem,
			Path:    filepath.Join(dir, stem+FormatText),
			Missing: true,
		}

		for _, ext := range formats {
			path := filepath.Join(dir, stem+ext)
			if isRegularFile(path) {
				candidate.Name = stem + ext
				candidate.Path = path
				candidate.Missing = false
				break
			}
		}

		items = append(items, candidate)
	}

	return &Candidates{Items: items}
}

// IsSupported reports whether ext (with leading dot) is a readable résumé format.
func IsSupported(ext string) bool {
	return slices.Contains(formats, strings.ToLower(ext))
}

func (c *Candidates) Len() int {
	return len(c.Items)
}

func (c *Candidates) Names() []string {
	names := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		names = append(names, item.Name)
	}
	return names
}

// Present returns candidates that have a file.
func (c *Candidates) Present() []*Candidate {
	present := make([]*Candidate, 0, len(c.Items))
	for _, item := range c.Items {
		if !item.Missing {
			present = append(present, item)
		}
	}
	return present
}

// isRegularFile follows symlinks, so a linked résumé counts as a file.
func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func formatRank(name string) int {
	return slices.Index(formats, strings.ToLower(filepath.Ext(name)))
}

// naturalCompare orders strings so that embedded numbers compare by value: cv2 < cv10.
func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		ca, cb := a[0], b[0]
		if isDigit(ca) && isDigit(cb) {
			na, restA := leadingDigits(a)
			nb, restB := leadingDigits(b)

			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) - len(tb)
			}
			if c := strings.Compare(ta, tb); c != 0 {
				return c
			}
			if len(na) != len(nb) {
				return len(na) - len(nb)
			}

			a, b = restA, restB
			continue
		}

		if ca != cb {
			return int(ca) - int(cb)
		}
		a, b = a[1:], b[1:]
	}

	return len(a) - len(b)
}

func leadingDigits(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
