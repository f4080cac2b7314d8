package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// barProgress shows a progress bar while an image is being described.
type barProgress struct {
	w io.Writer
}

func newBarProgress(w io.Writer) *barProgress {
	return &barProgress{w: w}
}

func (b *barProgress) WithProgress(ctx context.Context, title string, fn func(func(int)) error) error {
	bar := progressbar.NewOptions(
		100,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(title),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(b.w) }),
	)

	err := fn(func(n int) { bar.Add(n) })
	if err != nil {
		bar.Exit()
		fmt.Fprintln(b.w)
	}
	return err
}
