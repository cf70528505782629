package playback

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Player plays back WAV audio through whatever command-line player is
// installed on the system.
type Player struct{}

func New() *Player {
	return &Player{}
}

// PlayFile plays a WAV file and blocks until playback finishes.
func (p *Player) PlayFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	var cmd *exec.Cmd
	switch player {
	case "mpv":
		cmd = exec.Command("mpv", "--no-video", "--really-quiet", path)
	case "ffplay":
		cmd = exec.Command("ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", path)
	case "paplay":
		cmd = exec.Command("paplay", path)
	case "aplay":
		cmd = exec.Command("aplay", "-q", path)
	default:
		return fmt.Errorf("unsupported player: %s", player)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

// PlayBytes plays an in-memory WAV payload through a temporary file. Used
// for the alert cue, so it runs asynchronously and only logs failures.
func (p *Player) PlayBytes(wav []byte) {
	if len(wav) == 0 {
		return
	}

	f, err := os.CreateTemp("", "voicetrial-cue-*.wav")
	if err != nil {
		slog.Debug("failed to stage cue audio", "error", err)
		return
	}
	if _, err := f.Write(wav); err != nil {
		f.Close()
		os.Remove(f.Name())
		slog.Debug("failed to stage cue audio", "error", err)
		return
	}
	f.Close()

	go func() {
		defer os.Remove(f.Name())
		if err := p.PlayFile(f.Name()); err != nil {
			slog.Debug("cue playback failed", "error", err)
		}
	}()
}

func (p *Player) findAudioPlayer() (string, error) {
	players := []string{"mpv", "ffplay", "paplay", "aplay"}

	for _, player := range players {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
