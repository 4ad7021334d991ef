package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner displays a spinner while action runs and returns its error.
// Without a terminal the action simply runs. Cancelling ctx stops the spinner
// but not the action; the action should watch ctx itself.
func ShowSpinner(ctx context.Context, title string, action func() error) error {
	if !HasTTY {
		return action()
	}
	var err error
	done := make(chan struct{})
	if serr := spinner.New().
		Context(ctx).
		Title(title).
		Action(func() {
			defer close(done)
			err = action()
		}).
		Run(); serr != nil && ctx.Err() == nil {
		return serr
	}
	<-done
	return err
}
