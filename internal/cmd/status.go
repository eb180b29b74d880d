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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/daqlab/ringbus/internal/transport/shm"
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show ring status",
	Long: `Show the state of one ring, or of every ring in the directory: cursors,
free space and the backlog of each attached consumer.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringP("output", "o", "text", "output format: text, yaml or json")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	names := args
	if len(names) == 0 {
		if names, err = a.Directory.List(); err != nil {
			return err
		}
	}
	states := make([]shm.RingState, 0, len(names))
	for _, name := range names {
		st, err := a.Directory.Stat(name)
		if err != nil {
			return err
		}
		states = append(states, st)
	}

	output, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()
	switch output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(states)
	case "text":
		return printStatus(out, states)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func printStatus(w io.Writer, states []shm.RingState) error {
	if len(states) == 0 {
		fmt.Fprintln(w, "No rings.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCAPACITY\tFREE\tPRODUCER\tCONSUMERS\tAGE")
	for _, s := range states {
		producer := "-"
		if s.ProducerPID != 0 {
			producer = fmt.Sprintf("%d", s.ProducerPID)
			if !s.ProducerAlive {
				producer += " (dead)"
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d/%d\t%s\n", s.Name, s.Capacity, s.Free, producer,
			len(s.Consumers), s.MaxConsumers, time.Since(s.Created).Truncate(time.Second))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range states {
		if blocked, msg := shm.DiagnoseBackpressure(s); blocked || len(states) == 1 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, msg)
		}
	}
	return nil
}
