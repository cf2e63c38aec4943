package extractor

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	goeval "github.com/edisonguo/govaluate"
)

const DefaultMaxPosixErrors = 1000

func GetPosixInfo(filePath string, fStat os.FileInfo) *PosixInfo {
	info := &PosixInfo{FilePath: filePath, Size: fStat.Size(), MTime: fStat.ModTime().UTC()}
	if stat, ok := fStat.Sys().(*syscall.Stat_t); ok {
		info.INode = stat.Ino
	}
	signature := fmt.Sprintf("%s%d%d%d", filePath, info.INode, info.Size, info.MTime.UnixNano())
	info.ID = fmt.Sprintf("%x", md5.Sum([]byte(signature)))
	return info
}

// ParsePatternExpression compiles a crawl filter. The expression sees
// two variables: path, the absolute path of the entry, and type, "d"
// for directories and "f" for regular files. An empty pattern matches
// everything.
func ParsePatternExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	validVariables := map[string]struct{}{"path": {}, "type": {}}
	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		varName, ok := token.Value.(string)
		if !ok {
			return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
		}
		if _, found := validVariables[varName]; !found {
			return nil, fmt.Errorf("variable %v is not supported, valid variables are path and type", varName)
		}
	}
	return expr, nil
}

// PosixCrawler walks a directory tree concurrently and hands every
// product sidecar it finds to a single consumer.
type PosixCrawler struct {
	sidecars      chan *PosixInfo
	errs          chan error
	wg            sync.WaitGroup
	concLimit     chan struct{}
	pattern       *goeval.EvaluableExpression
	followSymlink bool
}

func NewPosixCrawler(conc int, pattern *goeval.EvaluableExpression, followSymlink bool) *PosixCrawler {
	if conc < 1 {
		conc = 1
	}
	return &PosixCrawler{
		sidecars:      make(chan *PosixInfo, 4096),
		errs:          make(chan error, DefaultMaxPosixErrors),
		concLimit:     make(chan struct{}, conc),
		pattern:       pattern,
		followSymlink: followSymlink,
	}
}

// Crawl walks root and calls handle once per sidecar from a single
// goroutine. Walk errors and handler errors are joined, up to
// DefaultMaxPosixErrors of them.
func (pc *PosixCrawler) Crawl(root string, handle func(*PosixInfo) error) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absRoot); err != nil {
		return err
	}

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		for info := range pc.sidecars {
			if err := handle(info); err != nil {
				pc.report(err)
			}
		}
	}()

	pc.wg.Add(1)
	pc.concLimit <- struct{}{}
	pc.crawlDir(absRoot, false)
	pc.wg.Wait()

	close(pc.sidecars)
	<-handled

	close(pc.errs)
	var errs []error
	for err := range pc.errs {
		errs = append(errs, err)
	}
	if len(errs) >= DefaultMaxPosixErrors {
		errs = append(errs, errors.New("too many errors"))
	}
	return errors.Join(errs...)
}

func (pc *PosixCrawler) report(err error) {
	select {
	case pc.errs <- err:
	default:
	}
}

func (pc *PosixCrawler) crawlDir(currPath string, serialised bool) {
	defer pc.wg.Done()
	if !serialised {
		defer func() { <-pc.concLimit }()
	}

	entries, err := os.ReadDir(currPath)
	if err != nil {
		pc.report(err)
		return
	}

	for _, entry := range entries {
		filePath := filepath.Join(currPath, entry.Name())
		fileMode := entry.Type()

		var fStat os.FileInfo
		if fileMode&fs.ModeSymlink != 0 {
			if !pc.followSymlink {
				continue
			}
			fStat, err = os.Stat(filePath)
			if err != nil {
				pc.report(err)
				continue
			}
			fileMode = fStat.Mode().Type()
		}

		isDir := fileMode.IsDir()
		if !isDir && !fileMode.IsRegular() {
			continue
		}
		if !isDir && !IsSidecar(filePath) {
			continue
		}

		if pc.pattern != nil {
			ok, err := pc.evaluatePatternExpression(filePath, isDir)
			if err != nil {
				pc.report(err)
				continue
			}
			if !ok {
				continue
			}
		}

		if isDir {
			pc.wg.Add(1)
			select {
			case pc.concLimit <- struct{}{}:
				go pc.crawlDir(filePath, false)
			default:
				pc.crawlDir(filePath, true)
			}
			continue
		}

		if fStat == nil {
			fStat, err = entry.Info()
			if err != nil {
				pc.report(err)
				continue
			}
		}
		pc.sidecars <- GetPosixInfo(filePath, fStat)
	}
}

func (pc *PosixCrawler) evaluatePatternExpression(filePath string, isDir bool) (bool, error) {
	fileType := "f"
	if isDir {
		fileType = "d"
	}

	result, err := pc.pattern.Evaluate(map[string]interface{}{"type": fileType, "path": filePath})
	if err != nil {
		return false, fmt.Errorf("pattern expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("pattern expression: result '%v' is not boolean", result)
	}
	return val, nil
}

