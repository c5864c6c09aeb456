package pipeline

import "fmt"

// Pipeline stages reported by SlideError.
const (
	StageConfig = "config"
	StageList   = "list"
	StageDetect = "detect"
	StageExport = "export"
	StageTissue = "threshold"
)

// SlideError is a fatal error that aborted one slide's run.
type SlideError struct {
	Slide string
	Stage string
	Err   error
}

func (e *SlideError) Error() string {
	return fmt.Sprintf("slide %q: %s failed: %v", e.Slide, e.Stage, e.Err)
}

func (e *SlideError) Unwrap() error {
	return e.Err
}

func slideError(slide, stage string, err error) error {
	return &SlideError{Slide: slide, Stage: stage, Err: err}
}
