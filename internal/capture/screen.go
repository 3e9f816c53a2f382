// Package capture grabs desktop screenshots through platform tools. Capture
// is strictly best-effort: failures degrade the ask request to text-only.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/AxoRm/glass/internal/domain"
)

const captureTimeout = 5 * time.Second

// ScreenCapturer implements domain.ScreenCapturer via OS screenshot tools.
type ScreenCapturer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *ScreenCapturer {
	return &ScreenCapturer{logger: logger}
}

func (c *ScreenCapturer) CaptureScreenshot(ctx context.Context, opts domain.CaptureOptions) domain.ScreenshotResult {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	path := filepath.Join(os.TempDir(), "glass-capture.png")
	defer os.Remove(path)

	cmd, err := screenshotCommand(ctx, path)
	if err != nil {
		return domain.ScreenshotResult{Err: err.Error()}
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		c.logger.Warn("screenshot command failed", "err", err, "output", string(out))
		return domain.ScreenshotResult{Err: "screenshot command failed: " + err.Error()}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ScreenshotResult{Err: "cannot read screenshot: " + err.Error()}
	}

	res := domain.ScreenshotResult{
		Success: true,
		Base64:  base64.StdEncoding.EncodeToString(data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		res.Width = cfg.Width
		res.Height = cfg.Height
	}
	return res
}

// screenshotCommand picks the platform screenshot tool.
func screenshotCommand(ctx context.Context, path string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "screencapture", "-x", path), nil
	case "linux":
		if _, err := exec.LookPath("gnome-screenshot"); err == nil {
			return exec.CommandContext(ctx, "gnome-screenshot", "-f", path), nil
		}
		if _, err := exec.LookPath("scrot"); err == nil {
			return exec.CommandContext(ctx, "scrot", "-o", path), nil
		}
		return nil, errNoTool
	default:
		return nil, errNoTool
	}
}

var errNoTool = errors.New("no screenshot tool available on this platform")
