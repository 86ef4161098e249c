// Package playback previews melodies with the operating system's default
// MIDI handler.
package playback

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"melodyevo/internal/artifact"
	"melodyevo/internal/genome"
)

const previewFile = "preview_melody.mid"

// Player writes each preview to a scratch file and hands it to an opener
// command. The scratch file is overwritten on every preview.
type Player struct {
	Dir string
	// Command overrides the platform opener; the file path is appended.
	Command []string
}

func NewPlayer(dir string) *Player {
	return &Player{Dir: dir, Command: DefaultCommand(runtime.GOOS)}
}

// DefaultCommand returns the opener for goos.
func DefaultCommand(goos string) []string {
	switch goos {
	case "windows":
		return []string{"cmd", "/c", "start", ""}
	case "darwin":
		return []string{"open"}
	default:
		return []string{"xdg-open"}
	}
}

func (p *Player) Preview(ctx context.Context, melody genome.Melody, bpm int) error {
	if len(p.Command) == 0 {
		return fmt.Errorf("no preview command configured")
	}
	dir := p.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, previewFile)
	if err := artifact.WriteFile(path, melody, bpm); err != nil {
		return err
	}

	args := append(append([]string(nil), p.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.Command[0], err, out)
	}
	return nil
}
