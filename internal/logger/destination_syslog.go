package logger

import (
	"bytes"
	"io"
	"sync"
	"time"
)

type destinationSysLog struct {
	syslog io.WriteCloser

	mutex sync.Mutex
	buf   bytes.Buffer
}

func newDestinationSyslog(prefix string) (destination, error) {
	syslog, err := newSyslog(prefix)
	if err != nil {
		return nil, err
	}

	return &destinationSysLog{
		syslog: syslog,
	}, nil
}

func (d *destinationSysLog) log(t time.Time, level Level, format string, args ...interface{}) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.buf.Reset()
	writeTime(&d.buf, t, false)
	writeLevel(&d.buf, level, false)
	writeContent(&d.buf, format, args)
	d.syslog.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destinationSysLog) close() {
	d.syslog.Close()
}
