package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlainReporterReportsPercentage(t *testing.T) {
	var buf bytes.Buffer
	r := newPlainReporter("write-flash", &buf)
	r.Report(512, 1024)

	out := buf.String()
	assert.True(t, strings.Contains(out, "50.0%"), out)
	assert.True(t, strings.Contains(out, "512/1024"), out)
}

func TestPlainReporterFinishReportsError(t *testing.T) {
	var buf bytes.Buffer
	r := newPlainReporter("erase-flash", &buf)
	r.Finish(errors.New("boom"))
	assert.True(t, strings.Contains(buf.String(), "failed: boom"))
}

func TestPlainReporterFinishReportsSuccess(t *testing.T) {
	var buf bytes.Buffer
	r := newPlainReporter("read-flash", &buf)
	r.Finish(nil)
	assert.True(t, strings.Contains(buf.String(), "done in"))
}

func TestPercentOfZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, percentOf(10, 0))
}

func TestEstimateETAZeroWhenDone(t *testing.T) {
	assert.Equal(t, time.Duration(0), estimateETA(100, 100, 10))
}

func TestEstimateETAPositive(t *testing.T) {
	eta := estimateETA(0, 1024, 1) // 1 KB/s, 1024 bytes = 1 KB remaining
	assert.Equal(t, time.Second, eta)
}
