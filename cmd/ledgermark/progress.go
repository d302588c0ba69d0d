package main

import (
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// uploadProgress renders storage upload progress on a terminal. The bar is
// created on the first callback because the total is only known then.
type uploadProgress struct {
	out     io.Writer
	enabled bool

	once sync.Once
	bar  *progressbar.ProgressBar
}

func newUploadProgress(out io.Writer, enabled bool) *uploadProgress {
	return &uploadProgress{out: out, enabled: enabled}
}

func (p *uploadProgress) update(sent, total int64) {
	if p == nil || !p.enabled {
		return
	}
	p.once.Do(func() {
		p.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(color.BlueString("Uploading artifact")),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		)
	})
	_ = p.bar.Set64(sent)
}

func (p *uploadProgress) finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
