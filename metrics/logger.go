package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Logger interface {
	Log(info *UnitInfo)
}

// StdoutLogger writes one JSON document per line.
type StdoutLogger struct {
	mu  sync.Mutex
	out io.Writer
	log *zap.Logger
}

func NewStdoutLogger(log *zap.Logger) *StdoutLogger {
	return &StdoutLogger{out: os.Stdout, log: log}
}

func (l *StdoutLogger) Log(info *UnitInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.log.Warn("metrics record encoding failed", zap.Error(err))
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, infoStr)
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends records to log<N> files in LogDir, rotating each
// file once it grows past MaxLogFileSize and keeping at most
// MaxLogFiles rotated copies per writer.
type FileLogger struct {
	MetricsQueue   chan *UnitInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int

	log *zap.Logger
	wg  sync.WaitGroup
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, log *zap.Logger) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *UnitInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		log:            log,
	}

	for i := 0; i < defaultLogWriters; i++ {
		logger.wg.Add(1)
		go logger.startLogWriter(i)
	}

	return logger
}

func (l *FileLogger) Log(info *UnitInfo) {
	l.MetricsQueue <- info
}

// Close drains the queue and waits for the writers to finish. Log must
// not be called afterwards.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()
	log := l.log.With(zap.Int("writer", idx))

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Error("metrics log open failed", zap.Error(err))
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Warn("metrics record encoding failed", zap.Error(err))
			continue
		}
		if f == nil {
			continue
		}

		f, err = l.tryRotateLogFile(f, idx)
		if err != nil {
			continue
		}

		if _, err := f.WriteString(infoStr); err != nil {
			log.Error("metrics log write failed", zap.Error(err))
			continue
		}
		f.Sync()
	}

	if f != nil {
		f.Close()
	}
}

func (l *FileLogger) logFilePath(idx int) string {
	return filepath.Join(l.LogDir, fmt.Sprintf("log%d", idx))
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	return os.OpenFile(l.logFilePath(idx), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	log := l.log.With(zap.Int("writer", idx))

	info, err := currFile.Stat()
	if err != nil {
		log.Warn("metrics log rotation failed", zap.Error(err))
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := filepath.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		rotatedLogFilePath, err = l.oldestRotatedFile(idx)
		if err != nil {
			log.Warn("metrics log rotation failed", zap.Error(err))
			return currFile, nil
		}
		log.Debug("maximum number of metrics logs reached", zap.String("overwrite", rotatedLogFilePath))
		if err := os.Remove(rotatedLogFilePath); err != nil {
			log.Warn("metrics log rotation failed", zap.Error(err))
			return currFile, nil
		}
	}

	currFile.Close()
	if err := os.Rename(l.logFilePath(idx), rotatedLogFilePath); err != nil {
		log.Warn("metrics log rotation failed", zap.Error(err))
	} else {
		log.Debug("metrics log rotated", zap.String("file", rotatedLogFilePath))
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Error("metrics log reopen failed", zap.Error(err))
		return nil, err
	}
	return f, nil
}

func (l *FileLogger) oldestRotatedFile(idx int) (string, error) {
	entries, err := os.ReadDir(l.LogDir)
	if err != nil {
		return "", err
	}

	prefix := fmt.Sprintf("log%d.", idx)
	var oldest string
	oldestTime := time.Now()
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().Before(oldestTime) {
			oldest = entry.Name()
			oldestTime = fi.ModTime()
		}
	}

	if oldest == "" {
		oldest = prefix + "0"
	}
	return filepath.Join(l.LogDir, oldest), nil
}
