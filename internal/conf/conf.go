// Package conf contains the struct that holds the configuration of the software.
package conf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bluenviron/reframer/internal/conf/env"
	"github.com/bluenviron/reframer/internal/flowparser"
	"github.com/bluenviron/reframer/internal/logger"
	"github.com/bluenviron/reframer/internal/pcm"
)

// minimum size of the frame buffer. It must contain a whole DTS scan window.
const minBufferSize = 4096

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		_, err := os.Stat(pa)
		if err == nil {
			return pa
		}
	}
	return ""
}

// Conf is a configuration.
type Conf struct {
	// General
	LogLevel        LogLevel        `json:"logLevel"`
	LogDestinations LogDestinations `json:"logDestinations"`
	LogFile         string          `json:"logFile"`
	SysLogPrefix    string          `json:"sysLogPrefix"`

	// Framing
	BufferSize          StringSize     `json:"bufferSize"`
	ReadBufferSize      StringSize     `json:"readBufferSize"`
	PCMChannels         int            `json:"pcmChannels"`
	PCMSampleRate       int            `json:"pcmSampleRate"`
	PCMBitsPerSample    int            `json:"pcmBitsPerSample"`
	DiscardReportPeriod StringDuration `json:"discardReportPeriod"`
	SourceCommand       string         `json:"sourceCommand"`

	// Server
	ServerAddress      string         `json:"serverAddress"`
	ServerReadTimeout  StringDuration `json:"serverReadTimeout"`
	ServerWriteTimeout StringDuration `json:"serverWriteTimeout"`
	MediaDirectory     string         `json:"mediaDirectory"`
}

func (conf *Conf) setDefaults() {
	// General
	conf.LogLevel = LogLevel(logger.Info)
	conf.LogDestinations = LogDestinations{logger.DestinationStdout}
	conf.LogFile = "reframer.log"
	conf.SysLogPrefix = "reframer"

	// Framing
	conf.BufferSize = flowparser.DefaultBufferSize
	conf.ReadBufferSize = 65536
	conf.PCMChannels = 2
	conf.PCMSampleRate = 48000
	conf.PCMBitsPerSample = 16
	conf.DiscardReportPeriod = StringDuration(10 * time.Second)

	// Server
	conf.ServerAddress = ":8085"
	conf.ServerReadTimeout = StringDuration(10 * time.Second)
	conf.ServerWriteTimeout = 0
	conf.MediaDirectory = "."
}

// Load loads a Conf.
// When fpath is empty, the first file of defaultConfPaths that exists is used.
// It returns the path of the loaded file, or an empty string
// if no file has been loaded.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	err = env.Load("REFRAMER", conf)
	if err != nil {
		return nil, "", err
	}

	err = conf.Validate()
	if err != nil {
		return nil, "", err
	}

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the configuration file is not explicitly set,
		// it is optional.
		if fpath == "" {
			conf.setDefaults()
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	err = unmarshalYAML(byts, conf)
	if err != nil {
		return "", err
	}

	return fpath, nil
}

// Clone clones the configuration.
func (conf Conf) Clone() *Conf {
	enc, err := json.Marshal(conf)
	if err != nil {
		panic(err)
	}

	var dest Conf
	err = json.Unmarshal(enc, &dest)
	if err != nil {
		panic(err)
	}

	return &dest
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	// General

	if conf.LogDestinations.contains(logger.DestinationFile) && conf.LogFile == "" {
		return fmt.Errorf("'logFile' must be set when 'logDestinations' contains 'file'")
	}

	// Framing

	if conf.BufferSize < minBufferSize {
		return fmt.Errorf("'bufferSize' must be at least %d bytes", minBufferSize)
	}
	if conf.ReadBufferSize == 0 {
		return fmt.Errorf("'readBufferSize' must be greater than zero")
	}

	err := conf.PCMFormat().Validate()
	if err != nil {
		return fmt.Errorf("invalid PCM parameters: %w", err)
	}

	if conf.DiscardReportPeriod < 0 {
		return fmt.Errorf("'discardReportPeriod' must not be negative")
	}

	// Server

	if conf.ServerAddress == "" {
		return fmt.Errorf("'serverAddress' must be set")
	}
	if conf.ServerReadTimeout < 0 || conf.ServerWriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if conf.MediaDirectory == "" {
		return fmt.Errorf("'mediaDirectory' must be set")
	}

	return nil
}

// PCMFormat returns the PCM format of the configuration.
func (conf *Conf) PCMFormat() pcm.Format {
	return pcm.Format{
		ChannelCount:  conf.PCMChannels,
		SampleRate:    conf.PCMSampleRate,
		BitsPerSample: conf.PCMBitsPerSample,
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (conf *Conf) UnmarshalJSON(b []byte) error {
	conf.setDefaults()

	type alias Conf
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode((*alias)(conf))
}
