package task

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseDepfile reads make-style dependency rules ("target: dep dep \") as
// written by compilers with -M/-MD and returns every prerequisite in order of
// first appearance. Backslash-newline continues a rule, "\ " escapes a space
// inside a path and "$$" stands for a literal "$".
func ParseDepfile(r io.Reader) ([]string, error) {
	var (
		deps    []string
		seen    = make(map[string]struct{})
		logical strings.Builder
	)

	flush := func(lineNo int) error {
		rule := logical.String()
		logical.Reset()
		if strings.TrimSpace(rule) == "" {
			return nil
		}
		words := splitWords(rule)
		colon := -1
		for i, w := range words {
			if strings.HasSuffix(w, ":") {
				colon = i
				break
			}
		}
		if colon < 0 {
			return fmt.Errorf("depfile line %d: missing ':' in rule %q", lineNo, rule)
		}
		for _, w := range words[colon+1:] {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			deps = append(deps, w)
		}
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasSuffix(line, "\\") {
			logical.WriteString(strings.TrimSuffix(line, "\\"))
			logical.WriteByte(' ')
			continue
		}
		logical.WriteString(line)
		if err := flush(lineNo); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading depfile: %w", err)
	}
	if err := flush(lineNo); err != nil {
		return nil, err
	}
	return deps, nil
}

// splitWords splits a rule on unescaped whitespace. A target followed
// directly by its dependencies ("a.o:a.c") yields "a.o:" and "a.c".
func splitWords(rule string) []string {
	var (
		words []string
		cur   strings.Builder
	)
	emit := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(rule); i++ {
		c := rule[i]
		switch {
		case c == '\\' && i+1 < len(rule) && rule[i+1] == ' ':
			cur.WriteByte(' ')
			i++
		case c == '$' && i+1 < len(rule) && rule[i+1] == '$':
			cur.WriteByte('$')
			i++
		case c == ' ' || c == '\t':
			emit()
		case c == ':':
			cur.WriteByte(':')
			emit()
		default:
			cur.WriteByte(c)
		}
	}
	emit()
	return words
}
