package display

// Nop is a Driver for headless operation: everything succeeds and
// nothing is drawn.
type Nop struct{}

func (Nop) Clear()                              {}
func (Nop) DrawText(_, _ int, _ string, _ bool) {}
func (Nop) DrawLine(_, _, _, _ int)             {}
func (Nop) DrawBitmap(_, _ int, _ Bitmap)       {}
func (Nop) Flush() error                        { return nil }
