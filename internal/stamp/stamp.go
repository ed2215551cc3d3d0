// Package stamp computes version stamps for files. A stamp is a short string
// that changes whenever the file's content (or, for the cheap strategy, its
// size or modification time) changes.
package stamp

import (
	"fmt"
	"os"
	"strconv"
)

// Missing is the stamp of a path that does not exist.
const Missing = "<missing>"

// Strategy names accepted by New.
const (
	StrategyModTime     = "mtime"
	StrategyContentHash = "hash"
)

// Provider returns the current stamp of a path.
type Provider interface {
	Stamp(path string) string
}

// New returns the provider for the named strategy. An empty strategy selects
// size+mtime.
func New(strategy string, m *Metrics, hashCacheSize int) (Provider, error) {
	switch strategy {
	case "", StrategyModTime:
		return &ModTime{Metrics: m}, nil
	case StrategyContentHash:
		return NewContentHash(m, hashCacheSize)
	default:
		return nil, fmt.Errorf("unknown stamp strategy %q", strategy)
	}
}

// ModTime stamps a file by its size and modification time. It costs one stat
// per call and never reads file content.
type ModTime struct {
	Metrics *Metrics
}

// Stamp implements Provider.
func (p *ModTime) Stamp(path string) string {
	p.Metrics.addStat()
	fi, err := os.Stat(path)
	if err != nil {
		return Missing
	}
	return sizeTime(fi)
}

func sizeTime(fi os.FileInfo) string {
	return strconv.FormatInt(fi.Size(), 10) + "-" + strconv.FormatInt(fi.ModTime().UnixNano(), 10)
}
