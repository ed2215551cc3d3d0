// Package fingerprint builds, encodes and persists the canonical text that
// decides whether a task is up to date.
//
// A fingerprint lists every input and output of a task with its stamp,
// followed by the task's cacheable parameter string. Sections appear in a
// fixed order and entries are sorted by path, so two runs over identical file
// states produce byte-identical text. Staleness is a byte comparison.
package fingerprint

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aristath/forge/internal/stamp"
)

var (
	// ErrNotCacheable is returned by Compute for tasks without cacheable
	// parameters. Such tasks are always stale and never persisted.
	ErrNotCacheable = errors.New("task parameters are not cacheable")

	// ErrMalformed is returned by Decode for text that is not a fingerprint.
	ErrMalformed = errors.New("malformed fingerprint")
)

const (
	sectionImplicit = "__ImplicitInputs:"
	sectionInputs   = "__ExplicitInputs:"
	sectionOutputs  = "__ExplicitOutputs:"
	sectionParams   = "__Params:"
	separator       = " >> "

	// Suffix is appended to a task's primary output to locate its fingerprint.
	Suffix = ".deps"
)

// Entry is one stamped path.
type Entry struct {
	Path  string
	Stamp string
}

// IO is the set of paths a fingerprint covers.
type IO struct {
	Implicit []string
	Inputs   []string
	Outputs  []string
}

// Fingerprint is the structured form of the canonical text.
type Fingerprint struct {
	Implicit        []Entry
	ExplicitInputs  []Entry
	ExplicitOutputs []Entry
	Params          string
}

// PathFor returns the fingerprint location for a primary output path.
func PathFor(primaryOutput string) string {
	return filepath.Clean(primaryOutput) + Suffix
}

// Build stamps every path in io with p.
func Build(io IO, params string, p stamp.Provider) *Fingerprint {
	return &Fingerprint{
		Implicit:        stampAll(io.Implicit, p),
		ExplicitInputs:  stampAll(io.Inputs, p),
		ExplicitOutputs: stampAll(io.Outputs, p),
		Params:          params,
	}
}

// Compute returns the canonical text for io. When cacheable is false it
// returns ErrNotCacheable.
func Compute(io IO, params string, cacheable bool, p stamp.Provider) (string, error) {
	if !cacheable {
		return "", ErrNotCacheable
	}
	return Build(io, params, p).Encode(), nil
}

// IsStale reports whether fresh differs from the previously stored text.
func IsStale(fresh, previous string, hasPrevious bool) bool {
	return !hasPrevious || fresh != previous
}

func stampAll(paths []string, p stamp.Provider) []Entry {
	seen := make(map[string]struct{}, len(paths))
	entries := make([]Entry, 0, len(paths))
	for _, path := range paths {
		path = filepath.Clean(path)
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		entries = append(entries, Entry{Path: path, Stamp: p.Stamp(path)})
	}
	sortEntries(entries)
	return entries
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

// Encode renders the canonical text. Entries are re-sorted, so a Fingerprint
// assembled by hand encodes the same as one produced by Build.
func (f *Fingerprint) Encode() string {
	var b strings.Builder
	writeSection(&b, sectionImplicit, f.Implicit)
	writeSection(&b, sectionInputs, f.ExplicitInputs)
	writeSection(&b, sectionOutputs, f.ExplicitOutputs)
	b.WriteString(sectionParams)
	b.WriteByte('\n')
	b.WriteString(f.Params)
	b.WriteByte('\n')
	return b.String()
}

func writeSection(b *strings.Builder, header string, entries []Entry) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sortEntries(sorted)

	b.WriteString(header)
	b.WriteByte('\n')
	for _, e := range sorted {
		b.WriteByte('\t')
		b.WriteString(e.Path)
		b.WriteString(separator)
		b.WriteString(e.Stamp)
		b.WriteByte('\n')
	}
}

// RestampOutputs replaces the stamps of f's outputs with their current state
// and leaves every input stamp as it was.
func (f *Fingerprint) RestampOutputs(p stamp.Provider) {
	for i := range f.ExplicitOutputs {
		f.ExplicitOutputs[i].Stamp = p.Stamp(f.ExplicitOutputs[i].Path)
	}
}

// ImplicitPaths returns the implicit input paths recorded in f.
func (f *Fingerprint) ImplicitPaths() []string {
	paths := make([]string, 0, len(f.Implicit))
	for _, e := range f.Implicit {
		paths = append(paths, e.Path)
	}
	return paths
}

// Decode parses canonical text back into a Fingerprint.
func Decode(text string) (*Fingerprint, error) {
	f := &Fingerprint{}
	rest := text
	headers := []struct {
		name string
		dst  *[]Entry
	}{
		{sectionImplicit, &f.Implicit},
		{sectionInputs, &f.ExplicitInputs},
		{sectionOutputs, &f.ExplicitOutputs},
	}

	for i, h := range headers {
		line, remaining, ok := strings.Cut(rest, "\n")
		if !ok || line != h.name {
			return nil, fmt.Errorf("%w: expected %s", ErrMalformed, h.name)
		}
		rest = remaining

		next := sectionParams
		if i+1 < len(headers) {
			next = headers[i+1].name
		}
		for !strings.HasPrefix(rest, next+"\n") {
			line, remaining, ok = strings.Cut(rest, "\n")
			if !ok {
				return nil, fmt.Errorf("%w: unterminated %s section", ErrMalformed, h.name)
			}
			e, err := parseEntry(line)
			if err != nil {
				return nil, err
			}
			*h.dst = append(*h.dst, e)
			rest = remaining
		}
	}

	params, ok := strings.CutPrefix(rest, sectionParams+"\n")
	if !ok {
		return nil, fmt.Errorf("%w: expected %s", ErrMalformed, sectionParams)
	}
	f.Params = strings.TrimSuffix(params, "\n")
	return f, nil
}

func parseEntry(line string) (Entry, error) {
	body, ok := strings.CutPrefix(line, "\t")
	if !ok {
		return Entry{}, fmt.Errorf("%w: entry %q is not indented", ErrMalformed, line)
	}
	i := strings.LastIndex(body, separator)
	if i < 0 {
		return Entry{}, fmt.Errorf("%w: entry %q has no stamp", ErrMalformed, line)
	}
	return Entry{Path: body[:i], Stamp: body[i+len(separator):]}, nil
}
