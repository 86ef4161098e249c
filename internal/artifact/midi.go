// Package artifact renders melodies as Standard MIDI Files.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"melodyevo/internal/genome"
)

const (
	BasePitch       = genome.BasePitch
	Velocity        = 100
	Channel         = 0
	TicksPerQuarter = 960
)

// Encode builds a single-track file with one quarter note per melody entry.
func Encode(melody genome.Melody, bpm int) (*smf.SMF, error) {
	if bpm <= 0 {
		return nil, fmt.Errorf("bpm must be > 0, got %d", bpm)
	}
	if len(melody) == 0 {
		return nil, fmt.Errorf("melody is empty")
	}

	clock := smf.MetricTicks(TicksPerQuarter)
	var track smf.Track
	track.Add(0, smf.MetaTempo(float64(bpm)))
	for i, offset := range melody {
		key := BasePitch + offset
		if key < genome.MinPitch || key > genome.MaxPitch {
			return nil, fmt.Errorf("note %d: pitch %d outside the MIDI key range", i, key)
		}
		track.Add(0, midi.NoteOn(Channel, uint8(key), Velocity))
		track.Add(clock.Ticks4th(), midi.NoteOff(Channel, uint8(key)))
	}
	track.Close(0)

	file := smf.New()
	file.TimeFormat = clock
	if err := file.Add(track); err != nil {
		return nil, err
	}
	return file, nil
}

func Write(w io.Writer, melody genome.Melody, bpm int) error {
	file, err := Encode(melody, bpm)
	if err != nil {
		return err
	}
	_, err = file.WriteTo(w)
	return err
}

// WriteFile writes the melody to path, replacing any existing file only once
// the new content is complete.
func WriteFile(path string, melody genome.Melody, bpm int) error {
	file, err := Encode(melody, bpm)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := file.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FilePersister writes accepted melodies below Dir. Absolute destinations
// are used as given.
type FilePersister struct {
	Dir string
}

func (p FilePersister) Persist(ctx context.Context, melody genome.Melody, bpm int, destination string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if destination == "" {
		return "", fmt.Errorf("destination is required")
	}
	path := destination
	if !filepath.IsAbs(path) && p.Dir != "" {
		path = filepath.Join(p.Dir, path)
	}
	if err := WriteFile(path, melody, bpm); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
