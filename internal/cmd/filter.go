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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daqlab/ringbus/internal/datasink"
	"github.com/daqlab/ringbus/internal/filter"
	"github.com/daqlab/ringbus/internal/ringitem"
)

var filterCmd = &cobra.Command{
	Use:   "filter <source> <sink>",
	Short: "Copy records between rings or files, filtering by type",
	Long: `Copy records from a source to a sink. --accept and --reject select
record types; --sample-rate passes at most that many physics events per
second. A summary of the records seen is printed at the end.`,
	Args: cobra.ExactArgs(2),
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)
	filterCmd.Flags().String("accept", "", "comma separated record types to pass (default all)")
	filterCmd.Flags().String("reject", "", "comma separated record types to drop")
	filterCmd.Flags().Float64("sample-rate", -1, "physics events per second to pass (default filter.sample_rate, 0 = all)")
	filterCmd.Flags().Bool("from-start", false, "attach at the oldest data still in the ring")
	filterCmd.Flags().Bool("eof", true, "stop when the ring producer exits and the ring is drained")
}

func runFilter(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	acceptList, _ := cmd.Flags().GetString("accept")
	rejectList, _ := cmd.Flags().GetString("reject")
	accept, err := ringitem.ParseTypes(acceptList)
	if err != nil {
		return err
	}
	reject, err := ringitem.ParseTypes(rejectList)
	if err != nil {
		return err
	}
	rate, _ := cmd.Flags().GetFloat64("sample-rate")
	if rate < 0 {
		rate = a.Config.Filter.SampleRate
	}

	src, err := openSource(ctx, cmd, a, args[0])
	if err != nil {
		return err
	}
	defer src.Close()
	sinkOpts := a.SinkOptions()
	sinkOpts.Create = true
	sink, err := datasink.Open(ctx, args[1], sinkOpts)
	if err != nil {
		return err
	}
	defer sink.Close()

	p := &filter.Pipeline{
		Name:    "filter",
		Reader:  ringitem.NewReader(src),
		Sink:    sink,
		Filters: []filter.Filter{filter.Sieve{Accept: accept, Reject: reject}, filter.NewSampler(rate)},
		Stats:   filter.NewStats("filter", a.Metrics),
		Tracker: a.RunState,
		Metrics: a.Metrics,
		Logger:  a.Logger,
	}
	err = p.Run(ctx)

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tRECORDS\tBYTES")
	for _, ts := range p.Stats.Snapshot() {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", ts.Name, ts.Records, ts.Bytes)
	}
	tw.Flush()
	fmt.Fprintf(out, "Forwarded %d record(s), skipped %d malformed\n", p.Forwarded(), p.Skipped())
	return err
}
