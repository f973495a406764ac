package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	errs   []error
	panics []any
	tags   []map[string]string
}

func (r *recorder) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func (r *recorder) RecoverPanic(v any, tags map[string]string) {
	r.panics = append(r.panics, v)
	r.tags = append(r.tags, tags)
}

func (r *recorder) Flush(time.Duration) {}

func TestCaptureException(t *testing.T) {
	rec := &recorder{}
	Init(rec)
	defer Init(NopMonitor{})

	CaptureException(nil, nil)
	CaptureException(errors.New("store down"), map[string]string{"module": "api"})
	require.Len(t, rec.errs, 1)
	assert.Equal(t, "api", rec.tags[0]["module"])

	Init(nil)
	CaptureException(errors.New("again"), nil)
	assert.Len(t, rec.errs, 2)
}

func TestGuardReportsAndRepanics(t *testing.T) {
	rec := &recorder{}
	Init(rec)
	defer Init(NopMonitor{})

	assert.PanicsWithValue(t, "boom", func() {
		defer Guard("journal")
		panic("boom")
	})
	require.Len(t, rec.panics, 1)
	assert.Equal(t, "journal", rec.tags[0]["module"])

	assert.NotPanics(t, func() { defer Guard("journal") })
	assert.Len(t, rec.panics, 1)
}

func TestPanicError(t *testing.T) {
	base := errors.New("nil map")
	assert.ErrorIs(t, PanicError(base), base)
	assert.EqualError(t, PanicError(42), "panic: 42")
}
