package stamp

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/sha3"
)

// DefaultHashCacheSize bounds the number of memoised content hashes.
const DefaultHashCacheSize = 4096

type memoKey struct {
	path  string
	size  int64
	mtime int64
}

// ContentHash stamps a file by the SHA3-256 of its content. Hashes are
// memoised per (path, size, mtime) so a file is read at most once while it
// stays untouched.
type ContentHash struct {
	metrics *Metrics
	memo    *lru.Cache[memoKey, string]
}

// NewContentHash creates a content-hash provider with a memo of cacheSize
// entries (DefaultHashCacheSize when cacheSize <= 0).
func NewContentHash(m *Metrics, cacheSize int) (*ContentHash, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultHashCacheSize
	}
	memo, err := lru.New[memoKey, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating hash memo: %w", err)
	}
	return &ContentHash{metrics: m, memo: memo}, nil
}

// Stamp implements Provider. Directories are stamped by size+mtime.
func (p *ContentHash) Stamp(path string) string {
	p.metrics.addStat()
	fi, err := os.Stat(path)
	if err != nil {
		return Missing
	}
	if fi.IsDir() {
		return sizeTime(fi)
	}

	key := memoKey{path: path, size: fi.Size(), mtime: fi.ModTime().UnixNano()}
	if sum, ok := p.memo.Get(key); ok {
		p.metrics.addHashCacheHit()
		return sum
	}

	f, err := os.Open(path)
	if err != nil {
		return Missing
	}
	defer f.Close()

	h := sha3.New256()
	n, err := io.Copy(h, f)
	p.metrics.addBytesRead(n)
	if err != nil {
		return Missing
	}

	sum := hex.EncodeToString(h.Sum(nil))
	p.memo.Add(key, sum)
	return sum
}
