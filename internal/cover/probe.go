package cover

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

const durationCacheTTL = time.Hour

// ristrettoDurations 媒体时长缓存
// 同一个源在多格式、多次重试之间只探测一次
type ristrettoDurations struct {
	cache *ristretto.Cache
}

func newDurationCache() (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
}

func (d *ristrettoDurations) get(sourceURL string) (float64, bool) {
	v, ok := d.cache.Get(sourceURL)
	if !ok {
		return 0, false
	}
	duration, ok := v.(float64)
	return duration, ok
}

func (d *ristrettoDurations) set(sourceURL string, duration float64) {
	d.cache.SetWithTTL(sourceURL, duration, 1, durationCacheTTL)
	// SetWithTTL 是异步的，Wait 保证同一任务的后续格式能命中
	d.cache.Wait()
}

// probeDuration 用 ffprobe 获取媒体时长（秒）
func probeDuration(ctx context.Context, sourceURL string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		sourceURL,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("probe timed out for %s: %w", sourceURL, ctx.Err())
		}
		return 0, fmt.Errorf("ffprobe failed for %s: %v (%s)", sourceURL, err, strings.TrimSpace(stderr.String()))
	}

	raw := strings.TrimSpace(stdout.String())
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable duration %q for %s: %w", raw, sourceURL, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration %f for %s", duration, sourceURL)
	}

	return duration, nil
}
