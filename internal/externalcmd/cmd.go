// Package externalcmd runs external commands that produce media on their standard output.
package externalcmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/bluenviron/reframer/internal/logger"
)

const (
	killTimeout = 5 * time.Second
)

// Environment contains variables that are replaced inside the command line
// and exported to the command.
type Environment map[string]string

// Cmd is an external command whose standard output is read as a byte stream.
type Cmd struct {
	Cmdline string
	Env     Environment
	Parent  logger.Writer

	cmd      *exec.Cmd
	stdout   io.ReadCloser
	killed   atomic.Bool
	waitOnce sync.Once
	waitErr  error
	osData   osData
}

// Initialize starts the command.
func (c *Cmd) Initialize() error {
	// variables are replaced in both Linux and Windows, in order to allow using the
	// same commands on both of them.
	cmdline := c.Cmdline
	env := append([]string(nil), os.Environ()...)

	for key, val := range c.Env {
		cmdline = strings.ReplaceAll(cmdline, "$"+key, shellquote.Join(val))
		env = append(env, key+"="+val)
	}

	var err error
	c.cmd, err = command(cmdline)
	if err != nil {
		return err
	}

	c.cmd.Env = env
	c.cmd.Stderr = os.Stderr

	c.stdout, err = c.cmd.StdoutPipe()
	if err != nil {
		return err
	}

	err = c.start()
	if err != nil {
		return err
	}

	c.Log(logger.Debug, "started '%s' (pid %d)", cmdline, c.cmd.Process.Pid)

	return nil
}

// Log implements logger.Writer.
func (c *Cmd) Log(level logger.Level, format string, args ...interface{}) {
	if c.Parent != nil {
		c.Parent.Log(level, "[source] "+format, args...)
	}
}

// Read implements io.Reader.
// Once the output is exhausted, a non-zero exit code is returned as error.
func (c *Cmd) Read(p []byte) (int, error) {
	n, err := c.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := c.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Close stops the command and waits for it to exit.
func (c *Cmd) Close() error {
	done := make(chan struct{})
	go func() {
		c.wait() //nolint:errcheck
		close(done)
	}()

	select {
	case <-done:
		c.release()
		return c.waitErr
	default:
	}

	c.killed.Store(true)
	c.kill()

	select {
	case <-done:
	case <-time.After(killTimeout):
		c.Log(logger.Warn, "command did not exit after interrupt, killing it")
		c.cmd.Process.Kill() //nolint:errcheck
		<-done
	}

	c.release()

	return nil
}

func (c *Cmd) wait() error {
	c.waitOnce.Do(func() {
		err := c.cmd.Wait()
		if err == nil || c.killed.Load() {
			return
		}

		var ee *exec.ExitError
		if errors.As(err, &ee) {
			c.waitErr = fmt.Errorf("command exited with code %d", ee.ExitCode())
		} else {
			c.waitErr = err
		}
	})
	return c.waitErr
}
