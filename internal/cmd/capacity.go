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
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/daqlab/ringbus/internal/transport/shm"
)

var capacityCmd = &cobra.Command{
	Use:   "capacity <name>",
	Short: "Probe the usable capacity of a scratch ring",
	Long: `Create a scratch ring, check which single-write sizes it accepts and
how many bytes a producer can put before an idle consumer holds it back.
The scratch ring is removed afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runCapacity,
}

func init() {
	rootCmd.AddCommand(capacityCmd)
	capacityCmd.Flags().Uint64("capacity", 65536, "scratch ring capacity in bytes")
}

func runCapacity(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	capacity, _ := cmd.Flags().GetUint64("capacity")
	name := args[0]
	prod, err := a.Directory.CreateAndAttachProducer(name, capacity)
	if err != nil {
		return err
	}
	defer a.Directory.RemoveForce(name)
	defer prod.Detach()
	cons, err := a.Directory.AttachConsumer(name)
	if err != nil {
		return err
	}
	defer cons.Detach()

	return probeCapacity(cmd.OutOrStdout(), prod, cons)
}

// probeCapacity writes and reads back growing single writes, then fills the
// ring against an idle consumer.
func probeCapacity(out io.Writer, prod *shm.Producer, cons *shm.Consumer) error {
	capacity := prod.Capacity()
	fmt.Fprintf(out, "Configured capacity: %d bytes\n", capacity)

	for size := uint64(16); size <= capacity; size *= 4 {
		if err := roundTrip(prod, cons, size); err != nil {
			fmt.Fprintf(out, "Size %d bytes: FAIL (%v)\n", size, err)
			return err
		}
		fmt.Fprintf(out, "Size %d bytes: OK\n", size)
	}
	if err := roundTrip(prod, cons, capacity); err != nil {
		fmt.Fprintf(out, "Size %d bytes: FAIL (%v)\n", capacity, err)
		return err
	}
	fmt.Fprintf(out, "Size %d bytes: OK\n", capacity)
	if _, err := prod.Put(make([]byte, capacity+1), 0); err != nil {
		fmt.Fprintf(out, "Size %d bytes: rejected (%v)\n", capacity+1, err)
	}

	// Fill against the idle consumer until the producer is held back.
	chunk := make([]byte, max(capacity/16, 1))
	var filled uint64
	for {
		ok, err := prod.Put(chunk, 0)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		filled += uint64(len(chunk))
	}
	free, err := prod.Free()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Filled %d bytes before backpressure, %d free\n", filled, free)
	if filled+free != capacity {
		return fmt.Errorf("usable space %d does not match capacity %d", filled+free, capacity)
	}
	return nil
}

func roundTrip(prod *shm.Producer, cons *shm.Consumer, size uint64) error {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	ok, err := prod.Put(data, time.Second)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("put of %d bytes timed out", size)
	}
	got := make([]byte, size)
	n, err := cons.Get(got, int(size), time.Second)
	if err != nil {
		return err
	}
	if uint64(n) != size {
		return fmt.Errorf("read back %d of %d bytes", n, size)
	}
	for i := range got {
		if got[i] != data[i] {
			return fmt.Errorf("byte %d differs after read back", i)
		}
	}
	return nil
}
