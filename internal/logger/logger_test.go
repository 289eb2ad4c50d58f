package logger

import (
	"bytes"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerToStdout(t *testing.T) {
	var buf bytes.Buffer

	l := &Logger{
		Destinations: []Destination{DestinationStdout},
		timeNow:      func() time.Time { return time.Date(2003, 11, 4, 23, 15, 8, 431232, time.UTC) },
		Stdout:       &buf,
	}
	err := l.Initialize()
	require.NoError(t, err)
	defer l.Close()

	l.Log(Info, "test format %d", 123)

	require.Equal(t, "2003/11/04 23:15:08 INF test format 123\n", buf.String())
}

func TestLoggerToFile(t *testing.T) {
	tempFile, err := os.CreateTemp(os.TempDir(), "reframer-logger-")
	require.NoError(t, err)
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	l := &Logger{
		Level:        Debug,
		Destinations: []Destination{DestinationFile},
		File:         tempFile.Name(),
		timeNow:      func() time.Time { return time.Date(2003, 11, 4, 23, 15, 8, 0, time.UTC) },
	}
	err = l.Initialize()
	require.NoError(t, err)
	defer l.Close()

	l.Log(Debug, "test format %d", 123)
	l.Log(Error, "second %s", "entry")

	buf, err := os.ReadFile(tempFile.Name())
	require.NoError(t, err)

	require.Equal(t, "2003/11/04 23:15:08 DEB test format 123\n"+
		"2003/11/04 23:15:08 ERR second entry\n", string(buf))
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer

	l := &Logger{
		Level:        Warn,
		Destinations: []Destination{DestinationStdout},
		timeNow:      func() time.Time { return time.Date(2003, 11, 4, 23, 15, 8, 0, time.UTC) },
		Stdout:       &buf,
	}
	err := l.Initialize()
	require.NoError(t, err)
	defer l.Close()

	l.Log(Info, "skipped")
	l.Log(Warn, "printed")

	require.Equal(t, "2003/11/04 23:15:08 WAR printed\n", buf.String())
}

type recordingWriter struct {
	entries []string
}

func (w *recordingWriter) Log(_ Level, format string, args ...interface{}) {
	w.entries = append(w.entries, fmt.Sprintf(format, args...))
}

func TestLimitedLogger(t *testing.T) {
	rw := &recordingWriter{}
	now := time.Date(2003, 11, 4, 23, 15, 8, 0, time.UTC)

	l := NewLimitedLogger(rw).(*limitedLogger)
	l.timeNow = func() time.Time { return now }

	l.Log(Warn, "first")
	l.Log(Warn, "second")

	now = now.Add(2 * time.Second)
	l.Log(Warn, "third")

	require.Equal(t, []string{"first", "third"}, rw.entries)
}
