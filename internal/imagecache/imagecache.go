// Package imagecache is a content-addressed on-disk cache for remote
// images proxied through the gateway, with single-flight dedup of
// concurrent fetches for the same URL.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hitalin/notedeck/internal/errs"
	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/models"
)

const (
	cacheTTL      = 24 * time.Hour
	maxFileBytes  = 20 << 20
	maxTotalBytes = 500 << 20
)

// Cache is the content-addressed on-disk image cache. One instance is
// shared process-wide.
type Cache struct {
	dir     string
	http    *http.Client
	group   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New creates a cache rooted at dir, creating it if necessary.
func New(dir string, fetchTimeout time.Duration, logger *zap.Logger, reg *metrics.Registry) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.KindDatabase, err, "create image cache directory")
	}
	if fetchTimeout == 0 {
		fetchTimeout = 15 * time.Second
	}
	return &Cache{
		dir:     dir,
		http:    &http.Client{Timeout: fetchTimeout},
		logger:  logger,
		metrics: reg,
	}, nil
}

// GetOrFetch returns a cache hit if one exists and is fresh, otherwise
// fetches url (HTTPS only) exactly once even under concurrent callers,
// via singleflight.Group keyed by content hash.
func (c *Cache) GetOrFetch(ctx context.Context, url string) (models.CacheEntry, error) {
	if !strings.HasPrefix(url, "https://") {
		return models.CacheEntry{}, errs.InvalidInput("only https urls are allowed")
	}

	hash := hexHash(url)
	dataPath := filepath.Join(c.dir, hash+".dat")
	metaPath := filepath.Join(c.dir, hash+".meta")

	if entry, ok := c.checkCache(hash, dataPath, metaPath); ok {
		c.recordHit()
		return entry, nil
	}

	result, err, _ := c.group.Do(hash, func() (interface{}, error) {
		if entry, ok := c.checkCache(hash, dataPath, metaPath); ok {
			return entry, nil
		}
		c.recordMiss()
		entry, err := c.fetchAndCache(ctx, url, hash, dataPath, metaPath)
		if err != nil {
			return models.CacheEntry{}, err
		}
		go c.evictIfOverCap()
		return entry, nil
	})
	if err != nil {
		return models.CacheEntry{}, err
	}
	return result.(models.CacheEntry), nil
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.ImageCache.Hits.Inc()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.ImageCache.Misses.Inc()
	}
}

func (c *Cache) checkCache(hash, dataPath, metaPath string) (models.CacheEntry, bool) {
	dataInfo, err := os.Stat(dataPath)
	if err != nil {
		return models.CacheEntry{}, false
	}
	if _, err := os.Stat(metaPath); err != nil {
		return models.CacheEntry{}, false
	}
	if time.Since(dataInfo.ModTime()) > cacheTTL {
		return models.CacheEntry{}, false
	}

	contentType, err := os.ReadFile(metaPath)
	if err != nil {
		return models.CacheEntry{}, false
	}

	return models.CacheEntry{
		Hash:        hash,
		Path:        dataPath,
		ContentType: string(contentType),
		MTime:       dataInfo.ModTime().Unix(),
		Size:        dataInfo.Size(),
	}, true
}

func (c *Cache) fetchAndCache(ctx context.Context, url, hash, dataPath, metaPath string) (models.CacheEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.CacheEntry{}, errs.Network(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("image fetch failed", zap.String("url", url), zap.Error(err))
		return models.CacheEntry{}, errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.CacheEntry{}, errs.API("image-fetch", resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	if resp.ContentLength > maxFileBytes {
		return models.CacheEntry{}, errs.InvalidInput("file too large")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	limited := io.LimitReader(resp.Body, maxFileBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return models.CacheEntry{}, errs.Network(err)
	}
	if len(data) > maxFileBytes {
		return models.CacheEntry{}, errs.InvalidInput("file too large")
	}

	if err := writeAtomic(dataPath, data); err != nil {
		return models.CacheEntry{}, errs.Database(err)
	}
	if err := writeAtomic(metaPath, []byte(contentType)); err != nil {
		return models.CacheEntry{}, errs.Database(err)
	}

	return models.CacheEntry{
		Hash:        hash,
		Path:        dataPath,
		ContentType: contentType,
		MTime:       time.Now().Unix(),
		Size:        int64(len(data)),
	}, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type cacheFile struct {
	path    string
	metaPath string
	mtime   time.Time
	size    int64
}

// evictIfOverCap walks .dat files and deletes oldest-mtime-first until
// the total is back under the cap.
func (c *Cache) evictIfOverCap() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	var files []cacheFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".dat" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		metaPath := strings.TrimSuffix(path, ".dat") + ".meta"
		files = append(files, cacheFile{path: path, metaPath: metaPath, mtime: info.ModTime(), size: info.Size()})
		total += info.Size()
	}

	if total <= maxTotalBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	evicted := 0
	for _, f := range files {
		if total <= maxTotalBytes {
			break
		}
		os.Remove(f.path)
		os.Remove(f.metaPath)
		total -= f.size
		evicted++
	}
	if evicted > 0 {
		c.logger.Info("evicted image cache entries over size cap", zap.Int("count", evicted))
		if c.metrics != nil {
			c.metrics.ImageCache.Evicted.Add(float64(evicted))
		}
	}
}

func hexHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
