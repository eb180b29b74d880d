/*
 *
 * Copyright 2025 The ringbus authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package cmd

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daqlab/ringbus/internal/recorder"
	"github.com/daqlab/ringbus/internal/ringitem"
)

var recordCmd = &cobra.Command{
	Use:   "record <source>",
	Short: "Record runs to event files",
	Long: `Record the runs found in a source to segmented event files named
run-NNNN-SS.evt. Records outside a run are dropped. Recording stops when
the source ends, after the first run with --one-shot, or when a run ends
abnormally.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().String("dir", "", "output directory (default recorder.dir)")
	recordCmd.Flags().Int64("segment-size", 0, "maximum segment size in bytes (default recorder.segment_size)")
	recordCmd.Flags().Bool("one-shot", false, "stop after the first run")
	recordCmd.Flags().Bool("no-checksum", false, "do not write .sha3 checksum sidecars")
	recordCmd.Flags().Bool("from-start", false, "attach at the oldest data still in the ring")
	recordCmd.Flags().Bool("eof", true, "stop when the ring producer exits and the ring is drained")
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	opts := recorder.Options{
		Dir:         a.Config.Recorder.Dir,
		SegmentSize: a.Config.Recorder.SegmentSize,
		Checksum:    a.Config.Recorder.Checksum,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	}
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		opts.Dir = dir
	}
	if size, _ := cmd.Flags().GetInt64("segment-size"); size > 0 {
		opts.SegmentSize = size
	}
	opts.OneShot, _ = cmd.Flags().GetBool("one-shot")
	if off, _ := cmd.Flags().GetBool("no-checksum"); off {
		opts.Checksum = false
	}

	rec, err := recorder.New(opts)
	if err != nil {
		return err
	}
	src, err := openSource(ctx, cmd, a, args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	err = rec.Run(ctx, ringitem.NewReader(src))
	if stderrors.Is(err, recorder.ErrAbnormalEnd) || stderrors.Is(err, context.Canceled) {
		err = nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d run(s) in %d file(s)\n", rec.RunsFinished(), len(rec.Files()))
	return err
}
