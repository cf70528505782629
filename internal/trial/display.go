package trial

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Display is the surface stimuli and alert cues are rendered on. Attachment
// is asynchronous on real display stacks, so ShowStimulus returns the moment
// the stimulus actually became visible, not the call time; all derived trial
// times use that timestamp.
type Display interface {
	ShowStimulus(ctx context.Context, markup string) (time.Time, error)
	HideStimulus()
	ShowAlert(image []byte)
	Clear()
}

// SoundPlayer plays an in-memory WAV cue. Failures are the implementation's
// problem: the alert is best-effort.
type SoundPlayer interface {
	PlayBytes(wav []byte)
}

// ConsoleDisplay renders stimuli to the terminal. A terminal attaches
// synchronously, so the visible timestamp is simply the write time.
type ConsoleDisplay struct{}

func (d *ConsoleDisplay) ShowStimulus(ctx context.Context, markup string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	fmt.Fprintf(os.Stdout, "\n>>> %s\n\n", markup)
	return time.Now(), nil
}

func (d *ConsoleDisplay) HideStimulus() {
	fmt.Fprintln(os.Stdout, "(stimulus hidden)")
}

func (d *ConsoleDisplay) ShowAlert(image []byte) {
	fmt.Fprintln(os.Stdout, "*** ALERT ***")
}

func (d *ConsoleDisplay) Clear() {}
