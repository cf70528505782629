package trial

import (
	"log/slog"
	"os"
)

// Assets are the decoded alert cue buffers. Either may be nil when the
// corresponding file was not configured or failed to load; the alert then
// degrades to whatever cue is left.
type Assets struct {
	Sound []byte
	Image []byte
}

// AssetLoader fetches the alert sound and image from disk. Loading is
// best-effort: failures are logged and never block or fail the trial.
type AssetLoader struct {
	SoundPath string
	ImagePath string
}

func (l *AssetLoader) Load() Assets {
	var a Assets
	a.Sound = l.loadFile(l.SoundPath, "alert sound")
	a.Image = l.loadFile(l.ImagePath, "alert image")
	return a
}

func (l *AssetLoader) loadFile(path, label string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to load asset, alert cue degrades", "asset", label, "path", path, "error", err)
		return nil
	}
	slog.Debug("asset loaded", "asset", label, "path", path, "bytes", len(data))
	return data
}
