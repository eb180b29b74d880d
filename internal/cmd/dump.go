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

	"github.com/daqlab/ringbus/internal/app"
	"github.com/daqlab/ringbus/internal/datasource"
	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/filter"
	"github.com/daqlab/ringbus/internal/ringitem"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <source>",
	Short: "Print records from a ring or event file",
	Long: `Print records from a source in human readable form. The source is a ring
name, ring://host/name for a ring behind a proxy, or file:///path for an
event file.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().Int("count", 0, "stop after printing this many records (0 = no limit)")
	dumpCmd.Flags().Int("skip", 0, "skip this many matching records first")
	dumpCmd.Flags().String("types", "", "comma separated record types to print (names or numbers)")
	dumpCmd.Flags().Bool("from-start", false, "attach at the oldest data still in the ring")
	dumpCmd.Flags().Bool("eof", false, "stop when the ring producer exits and the ring is drained")
}

// openSource opens uri with the --from-start and --eof flags of cmd.
func openSource(ctx context.Context, cmd *cobra.Command, a *app.Context, uri string) (datasource.Source, error) {
	opts := a.SourceOptions()
	opts.Timeout = a.PollTimeout()
	if f := cmd.Flags().Lookup("from-start"); f != nil {
		opts.FromStart, _ = cmd.Flags().GetBool("from-start")
	}
	if f := cmd.Flags().Lookup("eof"); f != nil {
		opts.EOFOnProducerExit, _ = cmd.Flags().GetBool("eof")
	}
	return datasource.Open(ctx, uri, opts)
}

// nextItem returns the next record, riding out would-block results until
// ctx is done.
func nextItem(ctx context.Context, rd *ringitem.Reader) (*ringitem.Item, error) {
	for {
		it, err := rd.Next()
		if err == nil || !stderrors.Is(err, errors.ErrWouldBlock) {
			return it, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func runDump(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	count, _ := cmd.Flags().GetInt("count")
	skip, _ := cmd.Flags().GetInt("skip")
	typeList, _ := cmd.Flags().GetString("types")
	accept, err := ringitem.ParseTypes(typeList)
	if err != nil {
		return err
	}
	sieve := filter.Sieve{Accept: accept}

	src, err := openSource(ctx, cmd, a, args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	rd := ringitem.NewReader(src)
	out := cmd.OutOrStdout()
	printed := 0
	for count == 0 || printed < count {
		it, err := nextItem(ctx, rd)
		if err != nil {
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if !sieve.Keep(it) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		fmt.Fprint(out, ringitem.Describe(it))
		printed++
	}
	return nil
}
