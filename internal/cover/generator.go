package cover

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/acgntube/coverd/storage"
	"github.com/acgntube/coverd/utils"
	"github.com/davidbyttow/govips/v2/vips"
	"golang.org/x/sync/semaphore"
)

// 支持的封面输出格式
const (
	FormatWebP = "webp"
	FormatJPEG = "jpg"
)

// GeneratorOptions 封面生成参数
type GeneratorOptions struct {
	// Width 输出宽度（像素）
	Width int
	// SamplePoints 时长内的取帧点（0~1 的比例）
	SamplePoints []float64
	// AttemptTimeout 单次取帧的硬超时
	AttemptTimeout time.Duration
	// MaxRetries 单格式最大尝试次数
	MaxRetries int
	// RetryDelay 两次尝试之间的间隔
	RetryDelay time.Duration
	// MaxConcurrent 并发 ffmpeg/libvips 上限
	MaxConcurrent int64
}

// Generator 封面生成器：ffmpeg 取帧 + libvips 缩放编码 + 存储落盘
type Generator struct {
	storage   storage.Provider
	opts      GeneratorOptions
	sem       *semaphore.Weighted
	durations *ristrettoDurations

	// 取帧和编码可在测试中替换
	probe   func(ctx context.Context, sourceURL string) (float64, error)
	extract func(ctx context.Context, sourceURL string, offsetSec float64) ([]byte, error)
	encode  func(frame []byte, width int, format string) ([]byte, error)
}

// NewGenerator 创建封面生成器
func NewGenerator(provider storage.Provider, opts GeneratorOptions) (*Generator, error) {
	if opts.Width <= 0 {
		opts.Width = 480
	}
	if len(opts.SamplePoints) == 0 {
		opts.SamplePoints = []float64{0.25, 0.5, 0.75}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 20 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}

	cache, err := newDurationCache()
	if err != nil {
		return nil, fmt.Errorf("failed to create duration cache: %w", err)
	}

	g := &Generator{
		storage:   provider,
		opts:      opts,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		durations: &ristrettoDurations{cache: cache},
	}
	g.probe = probeDuration
	g.extract = g.extractFrame
	g.encode = encodeFrame
	return g, nil
}

// Generate 生成一张封面并写入 destPath
// 依次尝试各取帧点，第一帧成功即编码落盘；所有失败路径都以 error 返回，
// 不会中止调用方。
func (g *Generator) Generate(ctx context.Context, sourceURL, destPath, format string) error {
	if sourceURL == "" {
		return fmt.Errorf("empty source url")
	}
	if !isSupportedFormat(format) {
		return fmt.Errorf("unsupported cover format: %s", format)
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire generation slot: %w", err)
	}
	defer g.sem.Release(1)

	duration, err := g.duration(ctx, sourceURL)
	if err != nil {
		return err
	}

	var lastErr error
	for _, point := range g.opts.SamplePoints {
		attemptCtx, cancel := context.WithTimeout(ctx, g.opts.AttemptTimeout)
		frame, err := g.extract(attemptCtx, sourceURL, duration*point)
		cancel()
		if err != nil {
			utils.LogIfDevf("[CoverGenerator] extract at %.2f failed for %s: %v", point, sourceURL, err)
			lastErr = err
			continue
		}

		encoded, err := g.encode(frame, g.opts.Width, format)
		if err != nil {
			utils.LogIfDevf("[CoverGenerator] encode %s failed for %s: %v", format, sourceURL, err)
			lastErr = err
			continue
		}

		if err := g.storage.SaveWithContext(ctx, destPath, bytes.NewReader(encoded)); err != nil {
			return fmt.Errorf("failed to store cover %s: %w", destPath, err)
		}
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no sample points configured")
	}
	return fmt.Errorf("no usable frame for %s: %w", sourceURL, lastErr)
}

// GenerateWithRetry 带重试的生成，最多 MaxRetries 次，成功立即返回
func (g *Generator) GenerateWithRetry(ctx context.Context, sourceURL, destPath, format string) error {
	var lastErr error
	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(g.opts.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := g.Generate(ctx, sourceURL, destPath, format); err != nil {
			lastErr = err
			utils.LogIfDevf("[CoverGenerator] attempt %d/%d failed: %v", attempt+1, g.opts.MaxRetries, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d attempts failed: %w", g.opts.MaxRetries, lastErr)
}

// duration 取媒体时长，带缓存
func (g *Generator) duration(ctx context.Context, sourceURL string) (float64, error) {
	if d, ok := g.durations.get(sourceURL); ok {
		return d, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, g.opts.AttemptTimeout)
	defer cancel()

	d, err := g.probe(probeCtx, sourceURL)
	if err != nil {
		return 0, err
	}
	g.durations.set(sourceURL, d)
	return d, nil
}

// extractFrame 用 ffmpeg 抽取单帧，png 管道输出
// ctx 超时会硬杀 ffmpeg 进程
func (g *Generator) extractFrame(ctx context.Context, sourceURL string, offsetSec float64) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", fmt.Sprintf("%.3f", offsetSec),
		"-i", sourceURL,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("frame extraction timed out at %.3fs: %w", offsetSec, ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg failed at %.3fs: %v (%s)", offsetSec, err, lastLine(stderr.String()))
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at %.3fs", offsetSec)
	}
	return stdout.Bytes(), nil
}

// encodeFrame 用 libvips 缩放到目标宽度并编码
func encodeFrame(frame []byte, width int, format string) ([]byte, error) {
	img, err := vips.NewImageFromBuffer(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to load frame: %w", err)
	}
	defer img.Close()

	if img.Width() > width {
		targetHeight := img.Height() * width / img.Width()
		if err := img.Thumbnail(width, targetHeight, vips.InterestingCentre); err != nil {
			return nil, fmt.Errorf("failed to scale frame: %w", err)
		}
	}

	switch format {
	case FormatWebP:
		data, _, err := img.ExportWebp(&vips.WebpExportParams{
			Quality:  85,
			Lossless: false,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to export webp: %w", err)
		}
		return data, nil
	case FormatJPEG:
		data, _, err := img.ExportJpeg(&vips.JpegExportParams{
			Quality: 85,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to export jpeg: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported cover format: %s", format)
	}
}

// isSupportedFormat 判断输出格式是否支持
func isSupportedFormat(format string) bool {
	return format == FormatWebP || format == FormatJPEG
}

// lastLine 取 stderr 最后一行，ffmpeg 的报错都在结尾
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
