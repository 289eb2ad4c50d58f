package conf

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/reframer/internal/logger"
	"github.com/bluenviron/reframer/internal/pcm"
	"github.com/bluenviron/reframer/internal/test"
)

func TestConfFromFile(t *testing.T) {
	tmpf, err := test.CreateTempFile([]byte("logLevel: debug\n" +
		"bufferSize: 1MB\n" +
		"pcmChannels: 6\n" +
		"pcmSampleRate: 96000\n" +
		"pcmBitsPerSample: 24\n" +
		"serverReadTimeout: 5s\n" +
		"mediaDirectory: /srv/media\n"))
	require.NoError(t, err)
	defer os.Remove(tmpf)

	conf, confPath, err := Load(tmpf, nil)
	require.NoError(t, err)
	require.Equal(t, tmpf, confPath)

	require.Equal(t, LogLevel(logger.Debug), conf.LogLevel)
	require.Equal(t, LogDestinations{logger.DestinationStdout}, conf.LogDestinations)
	require.Equal(t, StringSize(1024*1024), conf.BufferSize)
	require.Equal(t, StringSize(65536), conf.ReadBufferSize)
	require.Equal(t, pcm.Format{
		ChannelCount:  6,
		SampleRate:    96000,
		BitsPerSample: 24,
	}, conf.PCMFormat())
	require.Equal(t, StringDuration(5*time.Second), conf.ServerReadTimeout)
	require.Equal(t, "/srv/media", conf.MediaDirectory)
	require.Equal(t, ":8085", conf.ServerAddress)
}

func TestConfDefaults(t *testing.T) {
	conf, confPath, err := Load("", []string{"/nonexisting/reframer.yml"})
	require.NoError(t, err)
	require.Equal(t, "", confPath)

	require.Equal(t, LogLevel(logger.Info), conf.LogLevel)
	require.Equal(t, StringSize(600000), conf.BufferSize)
	require.Equal(t, pcm.Format{
		ChannelCount:  2,
		SampleRate:    48000,
		BitsPerSample: 16,
	}, conf.PCMFormat())
	require.Equal(t, StringDuration(10*time.Second), conf.DiscardReportPeriod)
}

func TestConfEmptyFile(t *testing.T) {
	tmpf, err := test.CreateTempFile([]byte(""))
	require.NoError(t, err)
	defer os.Remove(tmpf)

	conf, _, err := Load(tmpf, nil)
	require.NoError(t, err)
	require.Equal(t, StringSize(600000), conf.BufferSize)
}

func TestConfEnvironment(t *testing.T) {
	t.Setenv("REFRAMER_PCMSAMPLERATE", "96000")
	t.Setenv("REFRAMER_LOGDESTINATIONS", "stdout,file")
	t.Setenv("REFRAMER_BUFFERSIZE", "2MB")
	t.Setenv("REFRAMER_SERVERWRITETIMEOUT", "1m")
	t.Setenv("REFRAMER_SOURCECOMMAND", "cat $FILE")

	tmpf, err := test.CreateTempFile([]byte("pcmSampleRate: 44100\n"))
	require.NoError(t, err)
	defer os.Remove(tmpf)

	conf, _, err := Load(tmpf, nil)
	require.NoError(t, err)

	require.Equal(t, 96000, conf.PCMSampleRate)
	require.Equal(t, LogDestinations{logger.DestinationStdout, logger.DestinationFile}, conf.LogDestinations)
	require.Equal(t, StringSize(2*1024*1024), conf.BufferSize)
	require.Equal(t, StringDuration(time.Minute), conf.ServerWriteTimeout)
	require.Equal(t, "cat $FILE", conf.SourceCommand)
}

func TestConfErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		conf string
		err  string
	}{
		{
			"unknown field",
			"unknown: yes\n",
			"json: unknown field \"unknown\"",
		},
		{
			"duplicate field",
			"logLevel: info\nlogLevel: debug\n",
			"key \"logLevel\" already set in map",
		},
		{
			"invalid log level",
			"logLevel: verbose\n",
			"invalid log level: 'verbose'",
		},
		{
			"invalid log destination",
			"logDestinations: [stdout, network]\n",
			"invalid log destination: network",
		},
		{
			"buffer too small",
			"bufferSize: 1KB\n",
			"'bufferSize' must be at least 4096 bytes",
		},
		{
			"invalid channels",
			"pcmChannels: 9\n",
			"invalid PCM parameters: invalid PCM format: unsupported channel count 9",
		},
		{
			"invalid bits per sample",
			"pcmBitsPerSample: 8\n",
			"invalid PCM parameters: invalid PCM format: unsupported bits per sample 8",
		},
		{
			"empty log file",
			"logDestinations: [file]\nlogFile: \"\"\n",
			"'logFile' must be set when 'logDestinations' contains 'file'",
		},
		{
			"empty media directory",
			"mediaDirectory: \"\"\n",
			"'mediaDirectory' must be set",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			tmpf, err := test.CreateTempFile([]byte(ca.conf))
			require.NoError(t, err)
			defer os.Remove(tmpf)

			_, _, err = Load(tmpf, nil)
			require.ErrorContains(t, err, ca.err)
		})
	}
}

func TestConfClone(t *testing.T) {
	conf, _, err := Load("", nil)
	require.NoError(t, err)

	conf.LogLevel = LogLevel(logger.Warn)
	conf.LogDestinations = LogDestinations{logger.DestinationSyslog}

	clone := conf.Clone()
	require.Equal(t, conf, clone)

	clone.PCMChannels = 1
	require.Equal(t, 2, conf.PCMChannels)
}

func TestSampleConfFile(t *testing.T) {
	defaults, _, err := Load("", nil)
	require.NoError(t, err)

	sample, confPath, err := Load("../../reframer.yml", nil)
	require.NoError(t, err)
	require.Equal(t, "../../reframer.yml", confPath)

	require.Equal(t, StringSize(600*1024), sample.BufferSize)
	sample.BufferSize = defaults.BufferSize

	require.Equal(t, defaults, sample)
}
