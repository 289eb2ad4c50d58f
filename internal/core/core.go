// Package core contains the main struct of the software.
package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/reframer/internal/conf"
	"github.com/bluenviron/reframer/internal/confwatcher"
	"github.com/bluenviron/reframer/internal/logger"
	"github.com/bluenviron/reframer/internal/rlimit"
	"github.com/bluenviron/reframer/internal/servers/stream"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"reframer.yml",
	"/usr/local/etc/reframer.yml",
	"/usr/etc/reframer.yml",
	"/etc/reframer/reframer.yml",
}

type cli struct {
	Version bool   `help:"print version"`
	Conf    string `help:"path to a config file. The default is reframer.yml." placeholder:"PATH"`

	PCM    pcmCmd    `cmd:"" name:"pcm" help:"wrap raw PCM samples into blocks"`
	DTS    dtsCmd    `cmd:"" name:"dts" help:"align DTS frames to 2048-byte boundaries"`
	AnnexB annexBCmd `cmd:"" name:"annexb" help:"extract the H264 track of a MP4 file in Annex-B format"`
	SPS    spsCmd    `cmd:"" name:"sps" help:"print the parameters of the H264 track of a MP4 file"`
	Serve  serveCmd  `cmd:"" name:"serve" default:"1" help:"serve re-framed media files over HTTP"`
}

// Core is an instance of reframer.
type Core struct {
	ctx          context.Context
	ctxCancel    func()
	confPath     string
	conf         *conf.Conf
	stdout       io.Writer
	logger       *logger.Logger
	loggerMutex  sync.RWMutex
	streamServer *stream.Server
	confWatcher  *confwatcher.ConfWatcher
	failed       bool

	// out
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	var c cli

	parser, err := kong.New(&c,
		kong.Name("reframer"),
		kong.Description("reframer "+version),
		kong.UsageOnError())
	if err != nil {
		panic(err)
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERR: %s\n", err)
		return nil, false
	}

	if c.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := signal.NotifyContext(context.Background(), os.Interrupt)

	p := &Core{
		ctx:       ctx,
		ctxCancel: ctxCancel,
		stdout:    os.Stdout,
		done:      make(chan struct{}),
	}

	// media written to the standard output must not be mixed with logs.
	if writesStdout(kctx.Command(), &c) {
		p.stdout = os.Stderr
	}

	p.conf, p.confPath, err = conf.Load(c.Conf, defaultConfPaths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERR: %s\n", err)
		ctxCancel()
		return nil, false
	}

	err = p.createLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERR: %s\n", err)
		ctxCancel()
		return nil, false
	}

	p.Log(logger.Debug, "reframer %s", version)

	if p.confPath == "" {
		p.Log(logger.Debug, "configuration file not found, using the default configuration")
	} else {
		p.Log(logger.Debug, "configuration loaded from %s", p.confPath)
	}

	go p.run(kctx)

	return p, true
}

func writesStdout(command string, c *cli) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "pcm":
		return c.PCM.Output == "-"

	case "dts":
		return c.DTS.Output == "-"

	case "annexb":
		return c.AnnexB.Output == "-"
	}

	return false
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
// It returns false when the command failed.
func (p *Core) Wait() bool {
	<-p.done
	return !p.failed
}

// Log is the main logging function.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.loggerMutex.RLock()
	defer p.loggerMutex.RUnlock()

	p.logger.Log(level, format, args...)
}

func (p *Core) run(kctx *kong.Context) {
	defer close(p.done)

	err := kctx.Run(p)
	if err != nil {
		p.Log(logger.Error, "%s", err)
		p.failed = true
	}

	p.ctxCancel()
	p.logger.Close()
}

func (p *Core) createLogger() error {
	l := &logger.Logger{
		Level:        logger.Level(p.conf.LogLevel),
		Destinations: p.conf.LogDestinations,
		File:         p.conf.LogFile,
		SysLogPrefix: p.conf.SysLogPrefix,
		Stdout:       p.stdout,
	}
	err := l.Initialize()
	if err != nil {
		return err
	}

	// the confwatcher and the server log concurrently.
	p.loggerMutex.Lock()
	p.logger = l
	p.loggerMutex.Unlock()

	return nil
}

func (p *Core) createServer() error {
	p.streamServer = &stream.Server{
		Address:             p.conf.ServerAddress,
		ReadTimeout:         p.conf.ServerReadTimeout,
		WriteTimeout:        p.conf.ServerWriteTimeout,
		MediaDirectory:      p.conf.MediaDirectory,
		SourceCommand:       p.conf.SourceCommand,
		BufferSize:          p.conf.BufferSize,
		ReadBufferSize:      p.conf.ReadBufferSize,
		PCMFormat:           p.conf.PCMFormat(),
		DiscardReportPeriod: p.conf.DiscardReportPeriod,
		Parent:              p,
	}
	err := p.streamServer.Initialize()
	if err != nil {
		p.streamServer = nil
		return err
	}

	return nil
}

func (p *Core) closeServer() {
	if p.streamServer != nil {
		p.streamServer.Close()
		p.streamServer = nil
	}
}

func logConfChanged(oldConf *conf.Conf, newConf *conf.Conf) bool {
	return oldConf.LogLevel != newConf.LogLevel ||
		!reflect.DeepEqual(oldConf.LogDestinations, newConf.LogDestinations) ||
		oldConf.LogFile != newConf.LogFile ||
		oldConf.SysLogPrefix != newConf.SysLogPrefix
}

func (p *Core) reloadConf(newConf *conf.Conf) error {
	p.closeServer()

	oldConf := p.conf
	p.conf = newConf

	if logConfChanged(oldConf, newConf) {
		oldLogger := p.logger

		err := p.createLogger()
		if err != nil {
			return err
		}

		oldLogger.Close()
	}

	return p.createServer()
}

func (p *Core) serve() error {
	gin.SetMode(gin.ReleaseMode)

	p.Log(logger.Info, "reframer %s", version)

	// each session keeps a file or a source command open
	if n, err := rlimit.Raise(); err == nil && n != 0 {
		p.Log(logger.Debug, "file descriptor limit is %d", n)
	}

	err := p.createServer()
	if err != nil {
		return err
	}
	defer p.closeServer()

	confChanged := func() chan struct{} {
		if p.confPath == "" {
			return nil
		}

		p.confWatcher = &confwatcher.ConfWatcher{
			FilePath: p.confPath,
			Parent:   p,
		}
		err = p.confWatcher.Initialize()
		if err != nil {
			p.Log(logger.Warn, "unable to watch the configuration file: %s", err)
			p.confWatcher = nil
			return nil
		}

		return p.confWatcher.Watch()
	}()

	if p.confWatcher != nil {
		defer p.confWatcher.Close()
	}

	for {
		select {
		case _, ok := <-confChanged:
			if !ok {
				confChanged = nil
				continue
			}

			p.Log(logger.Info, "reloading configuration (file changed)")

			newConf, _, err := conf.Load(p.confPath, nil)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				continue
			}

			err = p.reloadConf(newConf)
			if err != nil {
				return err
			}

		case <-p.ctx.Done():
			p.Log(logger.Info, "shutting down gracefully")
			return nil
		}
	}
}
