package counterdumper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounterDumperReport(t *testing.T) {
	done := make(chan struct{})

	c := &CounterDumper{
		Period: 100 * time.Millisecond,
		OnReport: func(v uint64) {
			require.Equal(t, uint64(2020), v)
			close(done)
		},
	}
	c.Start()

	c.Add(2000)
	c.Add(20)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Errorf("should not happen")
	}

	c.Stop()
}

func TestCounterDumperDoNotReport(t *testing.T) {
	c := &CounterDumper{
		Period: 100 * time.Millisecond,
		OnReport: func(_ uint64) {
			t.Errorf("should not happen")
		},
	}
	c.Start()

	<-time.After(500 * time.Millisecond)

	c.Stop()
}

func TestCounterDumperReportOnStop(t *testing.T) {
	var reported []uint64

	c := &CounterDumper{
		OnReport: func(v uint64) {
			reported = append(reported, v)
		},
	}
	c.Start()

	c.Add(400)
	c.Add(15)
	c.Stop()

	require.Equal(t, []uint64{415}, reported)
}
