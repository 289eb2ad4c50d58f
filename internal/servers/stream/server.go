// Package stream contains a HTTP server that streams re-framed media files.
package stream

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bluenviron/reframer/internal/conf"
	"github.com/bluenviron/reframer/internal/convert"
	"github.com/bluenviron/reframer/internal/counterdumper"
	"github.com/bluenviron/reframer/internal/externalcmd"
	"github.com/bluenviron/reframer/internal/httpserv"
	"github.com/bluenviron/reframer/internal/logger"
	"github.com/bluenviron/reframer/internal/pcm"
)

var contentTypes = map[convert.Mode]string{
	convert.ModePCM:    "audio/x-pcm-blocks",
	convert.ModeDTS:    "audio/vnd.dts",
	convert.ModeAnnexB: "video/h264",
}

type apiError struct {
	Error string `json:"error"`
}

func queryFlag(ctx *gin.Context, key string) bool {
	switch ctx.Query(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Server is a HTTP server that streams re-framed media files.
type Server struct {
	Address             string
	ReadTimeout         conf.StringDuration
	WriteTimeout        conf.StringDuration
	MediaDirectory      string
	SourceCommand       string
	BufferSize          conf.StringSize
	ReadBufferSize      conf.StringSize
	PCMFormat           pcm.Format
	DiscardReportPeriod conf.StringDuration
	Parent              logger.Writer

	httpServer     *httpserv.WrappedServer
	writeErrLogger logger.Writer
}

// Initialize initializes the server.
func (s *Server) Initialize() error {
	s.writeErrLogger = logger.NewLimitedLogger(s)

	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	router.Use(httpserv.MiddlewareLogger(s))
	router.Use(httpserv.MiddlewareServerHeader)

	router.GET("/pcm/*file", s.onConvert(convert.ModePCM))
	router.GET("/dts/*file", s.onConvert(convert.ModeDTS))
	router.GET("/annexb/*file", s.onConvert(convert.ModeAnnexB))
	router.GET("/sps/*file", s.onSPS)

	s.httpServer = &httpserv.WrappedServer{
		Address:      s.Address,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		Handler:      router,
		Parent:       s,
	}
	err := s.httpServer.Initialize()
	if err != nil {
		return err
	}

	s.Log(logger.Info, "listener opened on %s", s.httpServer.Addr())

	return nil
}

// Close closes the server.
func (s *Server) Close() {
	s.Log(logger.Info, "listener is closing")
	s.httpServer.Close()
}

// Log implements logger.Writer.
func (s *Server) Log(level logger.Level, format string, args ...interface{}) {
	s.Parent.Log(level, "[HTTP] "+format, args...)
}

// resolve returns the path of a file inside the media directory.
func (s *Server) resolve(file string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(file, "/"))

	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid path '%s'", file)
	}

	return filepath.Join(s.MediaDirectory, rel), nil
}

// openSource opens a file, or starts the source command when it is set.
func (s *Server) openSource(fpath string, parent logger.Writer) (io.ReadCloser, error) {
	if s.SourceCommand != "" {
		c := &externalcmd.Cmd{
			Cmdline: s.SourceCommand,
			Env:     externalcmd.Environment{"FILE": fpath},
			Parent:  parent,
		}
		err := c.Initialize()
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	return os.Open(fpath)
}

func (s *Server) writeError(ctx *gin.Context, status int, err error) {
	ctx.JSON(status, &apiError{Error: err.Error()})
}

func (s *Server) onConvert(mode convert.Mode) func(*gin.Context) {
	return func(ctx *gin.Context) {
		se := &session{
			id:     uuid.New(),
			parent: s,
		}

		fpath, err := s.resolve(ctx.Param("file"))
		if err != nil {
			s.writeError(ctx, http.StatusBadRequest, err)
			return
		}

		src, err := s.openSource(fpath, se)
		if err != nil {
			se.Log(logger.Warn, "unable to open '%s': %v", fpath, err)
			s.writeError(ctx, http.StatusNotFound, fmt.Errorf("unable to open source"))
			return
		}
		defer src.Close()

		se.Log(logger.Info, "streaming '%s' as %s to %s", fpath, mode, ctx.Request.RemoteAddr)

		discarded := &counterdumper.CounterDumper{
			Period: time.Duration(s.DiscardReportPeriod),
			OnReport: func(v uint64) {
				se.Log(logger.Warn, "%d bytes of unrecognized data discarded", v)
			},
		}
		discarded.Start()
		defer discarded.Stop()

		c := &convert.Converter{
			Mode:           mode,
			BufferSize:     int(s.BufferSize),
			ReadBufferSize: int(s.ReadBufferSize),
			PCMFormat:      s.PCMFormat,
			MPEGTS:         queryFlag(ctx, "ts") || strings.HasSuffix(fpath, ".ts"),
			WrapPCM:        queryFlag(ctx, "pcm"),
			OnDiscard: func(n int) {
				discarded.Add(uint64(n))
			},
			Parent: se,
		}

		ctx.Header("Content-Type", contentTypes[mode])
		ctx.Header("Cache-Control", "no-cache")

		w := &responseWriter{w: ctx.Writer}

		err = c.Convert(ctx.Request.Context(), src, w)
		if err != nil {
			if !ctx.Writer.Written() {
				ctx.Writer.Header().Del("Content-Type")
				s.writeError(ctx, http.StatusBadRequest, err)
				return
			}

			se.writeErr(err)
			return
		}

		se.Log(logger.Info, "done, %d bytes sent", w.n)
	}
}

func (s *Server) onSPS(ctx *gin.Context) {
	fpath, err := s.resolve(ctx.Param("file"))
	if err != nil {
		s.writeError(ctx, http.StatusBadRequest, err)
		return
	}

	f, err := os.Open(fpath)
	if err != nil {
		s.writeError(ctx, http.StatusNotFound, fmt.Errorf("unable to open source"))
		return
	}
	defer f.Close()

	info, err := convert.ReadTrackInfo(f, s)
	if err != nil {
		s.writeError(ctx, http.StatusBadRequest, err)
		return
	}

	ctx.JSON(http.StatusOK, info)
}

// responseWriter flushes each write to the client.
// Closing it doesn't close the connection.
type responseWriter struct {
	w gin.ResponseWriter
	n int64
}

func (w *responseWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	if err != nil {
		return n, err
	}
	w.w.Flush()
	return n, nil
}

func (w *responseWriter) Close() error {
	return nil
}

type session struct {
	id     uuid.UUID
	parent *Server
}

// Log implements logger.Writer.
func (se *session) Log(level logger.Level, format string, args ...interface{}) {
	se.parent.Log(level, "[session %s] "+format, append([]interface{}{se.id}, args...)...)
}

func (se *session) writeErr(err error) {
	se.parent.writeErrLogger.Log(logger.Warn, "[session %s] streaming interrupted: %v", se.id, err)
}
