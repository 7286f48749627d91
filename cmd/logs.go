package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/worklog-cli/internal/observability"
)

func newLogsCmd() *cobra.Command {
	var (
		file   string
		lines  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the log file, optionally following it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = observability.LogFilePath()
			}
			if path == "" {
				cfg, err := getConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.Logger().LogFile
			}
			if path == "" {
				return errors.New("file logging is disabled; set logger.log_file or pass --file")
			}
			path = filepath.Clean(path)

			out := cmd.OutOrStdout()
			offset, err := printLastLines(out, path, lines)
			if err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followFile(cmd, out, path, offset)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "log file to read (default is logger.log_file)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing lines as they are written")
	return cmd
}

// printLastLines writes the final n lines of path as it is now and returns
// the offset they end at, so following picks up exactly after them.
func printLastLines(out io.Writer, path string, n int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if n <= 0 {
		return size, nil
	}

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(io.LimitReader(f, size))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	for _, l := range ring {
		fmt.Fprintln(out, l)
	}
	return size, nil
}

func followFile(cmd *cobra.Command, out io.Writer, path string, offset int64) error {
	t, err := tail.TailFile(path, tail.Config{
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		ReOpen:    true,
		Follow:    true,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("following %s: %w", path, err)
	}
	defer t.Cleanup()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}
