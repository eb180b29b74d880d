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

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a ring",
	Long: `Create a ring with the given name. The capacity must be a power of two
of at least 4096 bytes; without --capacity the configured default is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a ring",
	Long: `Remove a ring. A ring with live attachments is only removed with --force,
which wakes every blocked handle with a ring-removed error.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

var reclaimCmd = &cobra.Command{
	Use:   "reclaim <name>",
	Short: "Free consumer slots held by exited processes",
	Args:  cobra.ExactArgs(1),
	RunE:  runReclaim,
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(reclaimCmd)

	createCmd.Flags().Uint64("capacity", 0, "ring capacity in bytes (power of two)")
	removeCmd.Flags().Bool("force", false, "remove even with live attachments")
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	capacity, _ := cmd.Flags().GetUint64("capacity")
	if capacity == 0 {
		capacity = a.DefaultCapacity()
	}
	if err := a.Directory.Create(args[0], capacity); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created ring %s (%d bytes) at %s\n", args[0], capacity, a.Directory.Path(args[0]))
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	force, _ := cmd.Flags().GetBool("force")
	if force {
		err = a.Directory.RemoveForce(args[0])
	} else {
		err = a.Directory.Remove(args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed ring %s\n", args[0])
	return nil
}

func runReclaim(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Directory.ReclaimDead(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d slot(s) on %s\n", n, args[0])
	return nil
}
