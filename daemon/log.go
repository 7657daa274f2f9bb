package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter fans log output to stdout and, once initLogRotator has run, to
// the rotated log file, mirroring the teacher's build.LogWriter without the
// build package wrapper this pack doesn't carry.
type logWriter struct {
	RotatorPipe *io.PipeWriter
}

func (w *logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.RotatorPipe != nil {
		w.RotatorPipe.Write(p)
	}
	return len(p), nil
}

var (
	logWriterImpl = &logWriter{}
	backendLog    = btclog.NewBackend(logWriterImpl)
	logRotator    *rotator.Rotator

	ltndLog = backendLog.Logger("LTND")
	chanLog = backendLog.Logger("CHAN")
	rterLog = backendLog.Logger("RTER")
	peerLog = backendLog.Logger("PEER")
	rpcsLog = backendLog.Logger("RPCS")
	srvrLog = backendLog.Logger("SRVR")
)

var subsystemLoggers = map[string]btclog.Logger{
	"LTND": ltndLog,
	"CHAN": chanLog,
	"RTER": rterLog,
	"PEER": peerLog,
	"RPCS": rpcsLog,
	"SRVR": srvrLog,
}

// initLogRotator initializes logRotator to write logs to logFile and create
// roll files in the same directory.
func initLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %v", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriterImpl.RotatorPipe = pw
	logRotator = r
	return nil
}

// setLogLevels sets every subsystem logger to logLevel. Invalid levels fall
// back to info, matching btclog.LevelFromString's own default.
func setLogLevels(logLevel string) {
	level, _ := btclog.LevelFromString(logLevel)
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
