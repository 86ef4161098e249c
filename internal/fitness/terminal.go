package fitness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// TerminalRater asks for ratings on a line-oriented text channel. Invalid
// input is reported on the same channel and the prompt repeats.
type TerminalRater struct {
	in        io.Reader
	out       io.Writer
	previewer Previewer
	logger    *slog.Logger

	once    sync.Once
	lines   chan string
	readErr error

	lastGeneration int
}

type TerminalOption func(*TerminalRater)

func WithPreviewer(p Previewer) TerminalOption {
	return func(r *TerminalRater) {
		r.previewer = p
	}
}

func WithLogger(logger *slog.Logger) TerminalOption {
	return func(r *TerminalRater) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewTerminalRater(in io.Reader, out io.Writer, opts ...TerminalOption) *TerminalRater {
	r := &TerminalRater{
		in:     in,
		out:    out,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *TerminalRater) Rate(ctx context.Context, req Request) (int, error) {
	r.once.Do(r.startReader)

	if req.Generation != r.lastGeneration {
		r.lastGeneration = req.Generation
		fmt.Fprintf(r.out, "\n--- Generation %d ---\n", req.Generation)
	}
	fmt.Fprintf(r.out, "Melody %d of generation %d: %s\n", req.Index+1, req.Generation, formatMelody(req.Melody))

	if r.previewer != nil {
		if err := r.previewer.Preview(ctx, req.Melody, req.BPM); err != nil {
			// Playback is a convenience; the melody is still printed above.
			r.logger.Warn("melody preview failed", "generation", req.Generation, "index", req.Index, "error", err)
		}
	}

	for {
		fmt.Fprintf(r.out, "Rate melody %d (%d-%d): ", req.Index+1, MinRating, MaxRating)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case line, ok = <-r.lines:
		}
		if !ok {
			if errors.Is(r.readErr, io.EOF) {
				return 0, fmt.Errorf("rating input closed: %w", r.readErr)
			}
			return 0, fmt.Errorf("read rating: %w", r.readErr)
		}

		rating, err := parseRating(line)
		if err != nil {
			fmt.Fprintf(r.out, "%v\n", err)
			continue
		}
		return rating, nil
	}
}

func (r *TerminalRater) startReader() {
	r.lines = make(chan string)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			r.lines <- scanner.Text()
		}
		r.readErr = scanner.Err()
		if r.readErr == nil {
			r.readErr = io.EOF
		}
		close(r.lines)
	}()
}

func parseRating(text string) (int, error) {
	text = strings.TrimSpace(text)
	rating, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number, enter a rating between %d and %d", text, MinRating, MaxRating)
	}
	if err := CheckRating(rating); err != nil {
		return 0, fmt.Errorf("rating must be between %d and %d", MinRating, MaxRating)
	}
	return rating, nil
}

func formatMelody(melody []int) string {
	parts := make([]string, len(melody))
	for i, note := range melody {
		parts[i] = strconv.Itoa(note)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
