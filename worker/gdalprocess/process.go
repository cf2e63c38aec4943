package gdalprocess

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/processor"
	"github.com/UCLM-PAFyC/libRemoteSensing-sub001/utils"
)

// ExternalMerger mosaics the tile rasters of a ROI by running an
// external command such as gdal_merge.py. The output path and the
// matched tile rasters are appended to Command.
type ExternalMerger struct {
	Command []string
	Logger  *zap.Logger
}

func NewExternalMerger(command []string, logger *zap.Logger) *ExternalMerger {
	if len(command) == 0 {
		command = utils.DefaultMergeCommand
	}
	return &ExternalMerger{Command: command, Logger: logger}
}

func (em *ExternalMerger) Merge(ctx context.Context, task processor.MergeTask) error {
	files, err := processor.MatchTileRasters(task)
	if err != nil {
		return err
	}

	args := append(append([]string{}, em.Command[1:]...), task.Output)
	args = append(args, files...)
	cmd := exec.CommandContext(ctx, em.Command[0], args...)
	cmd.Dir = task.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}

	combinedOutput, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("merge %s: stderr pipe: %v", task.Roi, err)
	}
	cmd.Stdout = cmd.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("merge %s: failed to start %s: %w", task.Roi, em.Command[0], err)
	}
	pid := cmd.Process.Pid
	em.Logger.Info("merge process running", zap.String("roi", task.Roi), zap.Int("pid", pid), zap.Int("files", len(files)))

	// relay subprocess stderr and stdout to our logger, with pid
	scanner := bufio.NewScanner(combinedOutput)
	for scanner.Scan() {
		em.Logger.Info(scanner.Text(), zap.String("roi", task.Roi), zap.Int("pid", pid))
	}
	if err := scanner.Err(); err != nil {
		em.Logger.Warn("merge output no longer relayed", zap.String("roi", task.Roi), zap.Int("pid", pid), zap.Error(err))
	}
	// the child blocks on a full pipe until it is drained
	io.Copy(io.Discard, combinedOutput)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("merge %s: process exited: %w", task.Roi, err)
	}
	return nil
}
