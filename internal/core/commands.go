package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/bluenviron/reframer/internal/convert"
	"github.com/bluenviron/reframer/internal/counterdumper"
	"github.com/bluenviron/reframer/internal/externalcmd"
	"github.com/bluenviron/reframer/internal/logger"
)

type pcmCmd struct {
	Input    string `arg:"" help:"input file, - for the standard input"`
	Output   string `arg:"" help:"output file, - for the standard output"`
	Channels int    `help:"channel count. The default is taken from the configuration."`
	Rate     int    `help:"sample rate. The default is taken from the configuration."`
	Bits     int    `help:"bits per sample. The default is taken from the configuration."`
}

func (cmd *pcmCmd) Run(p *Core) error {
	// flags override the configuration of this run only.
	c := p.conf.Clone()
	if cmd.Channels != 0 {
		c.PCMChannels = cmd.Channels
	}
	if cmd.Rate != 0 {
		c.PCMSampleRate = cmd.Rate
	}
	if cmd.Bits != 0 {
		c.PCMBitsPerSample = cmd.Bits
	}

	err := c.Validate()
	if err != nil {
		return err
	}

	return p.convert(&convert.Converter{
		Mode:      convert.ModePCM,
		PCMFormat: c.PCMFormat(),
	}, cmd.Input, cmd.Output)
}

type dtsCmd struct {
	Input  string `arg:"" help:"input file, - for the standard input"`
	Output string `arg:"" help:"output file, - for the standard output"`
	TS     bool   `name:"ts" help:"read DTS from a MPEG-TS stream"`
	PCM    bool   `name:"pcm" help:"wrap the DTS stream into PCM blocks"`
}

func (cmd *dtsCmd) Run(p *Core) error {
	return p.convert(&convert.Converter{
		Mode:      convert.ModeDTS,
		PCMFormat: p.conf.PCMFormat(),
		MPEGTS:    cmd.TS,
		WrapPCM:   cmd.PCM,
	}, cmd.Input, cmd.Output)
}

type annexBCmd struct {
	Input  string `arg:"" help:"input MP4 file, - for the standard input"`
	Output string `arg:"" help:"output file, - for the standard output"`
}

func (cmd *annexBCmd) Run(p *Core) error {
	return p.convert(&convert.Converter{
		Mode: convert.ModeAnnexB,
	}, cmd.Input, cmd.Output)
}

type spsCmd struct {
	Input string `arg:"" help:"input MP4 file, - for the standard input"`
	JSON  bool   `name:"json" help:"print parameters in JSON format"`
}

func (cmd *spsCmd) Run(p *Core) error {
	src, err := p.openInput(cmd.Input)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := convert.ReadTrackInfo(src, p)
	if err != nil {
		return err
	}

	if cmd.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	printTrackInfo(os.Stdout, info)
	return nil
}

func printTrackInfo(w io.Writer, info *convert.TrackInfo) {
	refFrames := fmt.Sprintf("%d", info.RefFrames)
	if info.Truncated {
		refFrames = "unknown (truncated SPS)"
	}

	fmt.Fprintf(w, "track: %d\n", info.TrackID)
	fmt.Fprintf(w, "profile: %d\n", info.Profile)
	fmt.Fprintf(w, "level: %d\n", info.Level)
	fmt.Fprintf(w, "reference frames: %s\n", refFrames)
	fmt.Fprintf(w, "resolution: %dx%d\n", info.Width, info.Height)
	fmt.Fprintf(w, "samples: %d\n", info.Samples)
}

type serveCmd struct{}

func (cmd *serveCmd) Run(p *Core) error {
	return p.serve()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// counts the bytes written into the output.
type countingWriter struct {
	io.WriteCloser
	n uint64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	w.n += uint64(n)
	return n, err
}

// openInput opens a file, the standard input, or starts the source command.
func (p *Core) openInput(fpath string) (io.ReadCloser, error) {
	if fpath == "-" {
		return os.Stdin, nil
	}

	if p.conf.SourceCommand != "" {
		c := &externalcmd.Cmd{
			Cmdline: p.conf.SourceCommand,
			Env:     externalcmd.Environment{"FILE": fpath},
			Parent:  p,
		}
		err := c.Initialize()
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	return os.Open(fpath)
}

func (p *Core) openOutput(fpath string) (io.WriteCloser, error) {
	if fpath == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(fpath)
}

func (p *Core) convert(c *convert.Converter, input string, output string) error {
	src, err := p.openInput(input)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := p.openOutput(output)
	if err != nil {
		return err
	}

	discarded := &counterdumper.CounterDumper{
		Period: time.Duration(p.conf.DiscardReportPeriod),
		OnReport: func(v uint64) {
			p.Log(logger.Warn, "%d bytes of unrecognized data discarded", v)
		},
	}
	discarded.Start()
	defer discarded.Stop()

	c.BufferSize = int(p.conf.BufferSize)
	c.ReadBufferSize = int(p.conf.ReadBufferSize)
	c.OnDiscard = func(n int) {
		discarded.Add(uint64(n))
	}
	c.Parent = p

	cw := &countingWriter{WriteCloser: dst}

	p.Log(logger.Info, "converting %s into %s (%s)", describe(input), describe(output), c.Mode)

	err = c.Convert(p.ctx, src, cw)
	if err != nil {
		return err
	}

	p.Log(logger.Info, "done, %s written", bytefmt.ByteSize(cw.n))

	return nil
}

func describe(fpath string) string {
	if fpath == "-" {
		return "standard stream"
	}
	return "'" + fpath + "'"
}
