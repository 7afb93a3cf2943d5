// Package capture drives the recto/verso capture of one identity card: upload of each
// side, recognition, reconciliation into a combined record, operator edits and save.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/logger"
	"github.com/kozaktomas/cin-capture/internal/metrics"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

// Sentinel errors returned by Controller operations.
var (
	ErrBusy          = errors.New("another operation is in progress")
	ErrWrongState    = errors.New("operation not allowed in the current step")
	ErrNothingToSave = errors.New("no recto image or extracted data to save")
	ErrDiscarded     = errors.New("operation discarded by reset")
)

// Recognizer turns one side of the card into a field set and an image echo.
type Recognizer interface {
	Recognize(ctx context.Context, img *upload.CapturedImage) (*record.Recognition, error)
}

// PortraitExtractor crops the face photo out of a recto image. A nil portrait with a nil
// error means no face was found.
type PortraitExtractor interface {
	ExtractPortrait(ctx context.Context, img *upload.CapturedImage) (*record.Portrait, error)
}

// Saver persists a reconciled record together with the recto image.
type Saver interface {
	Save(ctx context.Context, payload record.SavePayload, recto *upload.CapturedImage) (*record.SaveResult, error)
}

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	RequestTimeout time.Duration
	// ResetDelay is how long the success message stays up after a save. Zero resets
	// immediately.
	ResetDelay time.Duration
	Rules      upload.Rules
	Logger     *zap.Logger
	AfterFunc  AfterFunc
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = constants.DefaultRequestTimeout
	}
	if o.Rules.MaxBytes <= 0 || len(o.Rules.AllowedTypes) == 0 {
		o.Rules = upload.DefaultRules()
	}
	o.Logger = logger.OrNop(o.Logger)
	if o.AfterFunc == nil {
		o.AfterFunc = timeAfterFunc
	}
	return o
}

// Controller owns the state of one capture run. It is safe for concurrent use, but only
// one operation runs at a time; others fail with ErrBusy.
type Controller struct {
	recognizer Recognizer
	portraits  PortraitExtractor
	saver      Saver
	opts       Options
	log        *zap.Logger

	mu    sync.Mutex
	state state
	// generation is bumped by Reset; completions carrying an older value are dropped.
	generation uint64
	busy       bool
	cancel     context.CancelFunc
	stopReset  func() bool

	rectoPreview *upload.CapturedImage
	versoPreview *upload.CapturedImage
	portrait     *record.Portrait
	message      string
	errMessage   string
	justSaved    bool
	lastSave     *record.SaveResult
}

// NewController creates a controller in the recto step.
func NewController(recognizer Recognizer, portraits PortraitExtractor, saver Saver, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		recognizer: recognizer,
		portraits:  portraits,
		saver:      saver,
		opts:       opts,
		log:        opts.Logger,
		state:      stateRecto{},
	}
}

// begin reserves the controller for one operation if the current state passes check.
// It returns the generation and a context bounded by the request timeout.
func (c *Controller) begin(ctx context.Context, check func(state) bool) (uint64, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return 0, nil, ErrBusy
	}
	if !check(c.state) {
		return 0, nil, fmt.Errorf("%w: %s", ErrWrongState, c.state.step())
	}

	c.busy = true
	c.errMessage = ""
	c.message = ""
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	c.cancel = cancel
	return c.generation, callCtx, nil
}

// finish releases the controller. It must be called with mu held and reports whether
// gen is still current.
func (c *Controller) finish(gen uint64) bool {
	if gen != c.generation {
		return false
	}
	c.busy = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return true
}

// fail records err as the visible error and releases the controller.
func (c *Controller) fail(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(gen) {
		return ErrDiscarded
	}
	c.errMessage = record.UserMessage(err)
	return err
}

// readUpload runs the validation gate and shows the preview as soon as the bytes are read.
func (c *Controller) readUpload(ctx context.Context, gen uint64, u upload.Upload, preview **upload.CapturedImage) (*upload.CapturedImage, error) {
	img, err := c.opts.Rules.Read(ctx, u)
	if err != nil {
		return nil, c.fail(gen, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil, ErrDiscarded
	}
	*preview = img
	return img, nil
}

// recognize calls the recognizer and resolves the image echo. When the service does not
// echo the image the uploaded bytes stand in for it.
func (c *Controller) recognize(ctx context.Context, img *upload.CapturedImage) (record.RawFieldSet, *upload.CapturedImage, error) {
	rec, err := c.recognizer.Recognize(ctx, img)
	if err != nil {
		return nil, nil, record.NewCollaboratorError(record.OpRecognize, err)
	}

	echo := img
	if rec.ImageBase64 != "" {
		if decoded, err := upload.FromBase64(rec.ImageBase64, img.ContentType, img.Name); err == nil {
			echo = decoded
		} else {
			c.log.Debug("ignoring undecodable image echo", zap.Error(err))
		}
	}
	fields := rec.Fields.Clone()
	return fields, echo, nil
}

// UploadRecto captures the front side. It is accepted in the recto step and, to replace
// a misread front, in the verso step.
func (c *Controller) UploadRecto(ctx context.Context, u upload.Upload) error {
	gen, callCtx, err := c.begin(ctx, func(s state) bool {
		switch s.(type) {
		case stateRecto, stateVerso:
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	img, err := c.readUpload(callCtx, gen, u, &c.rectoPreview)
	if err != nil {
		return err
	}

	fields, echo, err := c.recognize(callCtx, img)
	if err != nil {
		c.log.Warn("recto recognition failed", zap.String("file", img.Name), zap.Error(err))
		return c.fail(gen, err)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrDiscarded
	}
	c.state = stateVerso{recto: side{fields: fields, image: echo}}
	c.rectoPreview = echo
	c.portrait = nil
	c.mu.Unlock()

	metrics.CaptureEvent("recto")
	c.log.Info("recto captured", zap.String("file", img.Name), zap.Int("fields", len(fields)))

	portrait := c.extractPortrait(callCtx, echo)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(gen) {
		return ErrDiscarded
	}
	c.portrait = portrait
	return nil
}

// extractPortrait never fails the capture; any error leaves the portrait unset.
func (c *Controller) extractPortrait(ctx context.Context, img *upload.CapturedImage) *record.Portrait {
	if c.portraits == nil {
		return nil
	}
	portrait, err := c.portraits.ExtractPortrait(ctx, img)
	if err != nil {
		c.log.Debug("portrait extraction failed", zap.Error(err))
		return nil
	}
	return portrait
}

// UploadVerso captures the back side and reconciles it with the recto captured when the
// call was issued.
func (c *Controller) UploadVerso(ctx context.Context, u upload.Upload) error {
	var recto side
	gen, callCtx, err := c.begin(ctx, func(s state) bool {
		v, ok := s.(stateVerso)
		recto = v.recto
		return ok
	})
	if err != nil {
		return err
	}

	img, err := c.readUpload(callCtx, gen, u, &c.versoPreview)
	if err != nil {
		return err
	}

	fields, echo, err := c.recognize(callCtx, img)
	if err != nil {
		c.log.Warn("verso recognition failed", zap.String("file", img.Name), zap.Error(err))
		return c.fail(gen, err)
	}

	combined := record.Merge(recto.fields, fields)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(gen) {
		return ErrDiscarded
	}
	verso := side{fields: fields, image: echo}
	c.state = stateEdit{recto: recto, verso: &verso, combined: combined}
	c.versoPreview = echo

	metrics.CaptureEvent("verso")
	c.log.Info("verso captured", zap.String("file", img.Name), zap.Int("fields", len(combined)))
	return nil
}

// SkipVerso moves to the edit step using only the recto fields.
func (c *Controller) SkipVerso() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return ErrBusy
	}
	v, ok := c.state.(stateVerso)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWrongState, c.state.step())
	}

	c.state = stateEdit{recto: v.recto, combined: record.Merge(v.recto.fields, record.RawFieldSet{})}
	c.errMessage = ""
	metrics.CaptureEvent("skip")
	return nil
}

// EditField overwrites one field of the combined record. Any string is accepted and no
// re-merge happens.
func (c *Controller) EditField(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return ErrBusy
	}
	e, ok := c.state.(stateEdit)
	if !ok || c.justSaved {
		return fmt.Errorf("%w: %s", ErrWrongState, c.state.step())
	}

	e.combined = e.combined.Clone()
	e.combined[name] = value
	c.state = e
	return nil
}

// Save submits the combined record with the recto image. On success the controller
// resets itself after the configured delay.
func (c *Controller) Save(ctx context.Context) (*record.SaveResult, error) {
	var edit stateEdit
	gen, callCtx, err := c.begin(ctx, func(s state) bool {
		e, ok := s.(stateEdit)
		edit = e
		return ok && !c.justSaved
	})
	if err != nil {
		return nil, err
	}

	if edit.recto.image == nil || len(edit.combined) == 0 {
		return nil, c.fail(gen, ErrNothingToSave)
	}

	payload := record.BuildSavePayload(edit.combined)
	result, err := c.saver.Save(callCtx, payload, edit.recto.image)
	if err != nil {
		c.log.Warn("save failed", zap.Error(err))
		return nil, c.fail(gen, record.NewCollaboratorError(record.OpSave, err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finish(gen) {
		return nil, ErrDiscarded
	}

	c.justSaved = true
	c.lastSave = result
	c.message = successMessage(result)
	metrics.CaptureEvent("saved")
	c.log.Info("document saved",
		zap.Int64("id", result.DatabaseID),
		zap.Bool("portrait", result.PortraitExtracted()))

	if c.opts.ResetDelay <= 0 {
		c.resetLocked()
		return result, nil
	}
	c.stopReset = c.opts.AfterFunc(c.opts.ResetDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation == gen {
			c.resetLocked()
		}
	})
	return result, nil
}

func successMessage(r *record.SaveResult) string {
	msg := fmt.Sprintf("Document saved (ID %d)", r.DatabaseID)
	if r.PortraitExtracted() {
		msg += " with face photo"
	}
	return msg
}

// Reset returns to the recto step from any state and clears everything captured so far.
// Calls still in flight are cancelled and their results discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.stopReset != nil {
		c.stopReset()
		c.stopReset = nil
	}
	c.busy = false
	c.state = stateRecto{}
	c.rectoPreview = nil
	c.versoPreview = nil
	c.portrait = nil
	c.message = ""
	c.errMessage = ""
	c.justSaved = false
	c.lastSave = nil
	metrics.CaptureEvent("reset")
}

// Step returns the current step.
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.step()
}
