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
	"io"

	"github.com/spf13/cobra"

	"github.com/daqlab/ringbus/internal/datasink"
	"github.com/daqlab/ringbus/internal/datasource"
	"github.com/daqlab/ringbus/internal/ringitem"
)

var catCmd = &cobra.Command{
	Use:   "cat <file>... --ring <name>",
	Short: "Replay event files into a ring",
	Long: `Replay event files into a ring, record by record. The ring is created
with the configured capacity if it does not exist.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().String("ring", "", "destination ring name or address")
	_ = catCmd.MarkFlagRequired("ring")
}

func runCat(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	ring, _ := cmd.Flags().GetString("ring")
	opts := a.SinkOptions()
	opts.Create = true
	sink, err := datasink.Open(ctx, ring, opts)
	if err != nil {
		return err
	}
	defer sink.Close()

	total := 0
	for _, path := range args {
		n, err := replayFile(ctx, path, sink)
		total += n
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		a.Logger.Info("Replayed file", "file", path, "records", n)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records to %s\n", total, ring)
	return nil
}

func replayFile(ctx context.Context, path string, sink datasink.Sink) (int, error) {
	src, err := datasource.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	rd := ringitem.NewReader(src)
	n := 0
	for ctx.Err() == nil {
		it, err := rd.Next()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if err := sink.PutItem(it); err != nil {
			return n, err
		}
		n++
	}
	return n, ctx.Err()
}
