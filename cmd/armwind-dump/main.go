// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/saferwall/armwind"
	"github.com/saferwall/armwind/log"
	"github.com/saferwall/armwind/memsrc"
)

var (
	verbose  bool
	loadBias uint32
	maxDepth int
)

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func walk(cmd *cobra.Command, args []string) {
	path := args[0]
	pc, err := parseAddress(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid starting pc %q: %s\n", args[1], err)
		os.Exit(1)
	}
	sp, err := parseAddress(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid starting sp %q: %s\n", args[2], err)
		os.Exit(1)
	}

	minLevel := log.LevelError
	if verbose {
		minLevel = log.LevelDebug
	}
	logger := log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout), log.FilterLevel(minLevel)))

	bin, err := memsrc.Open(path, 1, loadBias, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %q: %s\n", path, err)
		os.Exit(1)
	}
	defer bin.Close()

	memory := memsrc.NewReader(bin)
	lookup := memsrc.NewLookup(bin)
	driver := armwind.NewDriver(lookup, &armwind.Options{Logger: logger})

	regs := &armwind.Registers{}
	regs.Set(armwind.RegPC, pc)
	regs.Set(armwind.RegSP, sp)

	for frame := 0; frame < maxDepth; frame++ {
		var initialAddress, raAddress uint32
		status, err := driver.UnwindOneFrame(frame, memory, regs, &initialAddress, &raAddress)
		if err != nil {
			fmt.Printf("#%-3d <unwind failed: %s>\n", frame, err)
			return
		}

		curPC, _ := regs.Get(armwind.RegPC)
		fmt.Printf("#%-3d pc=0x%08x fn=0x%08x ra_addr=0x%08x\n", frame, curPC, initialAddress, raAddress)

		if status == armwind.Finished {
			return
		}
	}
	fmt.Printf("stopped after %d frames\n", maxDepth)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "armwind-dump",
		Short: "Walks an ARM EHABI call stack from a given PC/SP",
		Long:  "A demonstration harness for the ARM EHABI stack-unwinding core",
	}

	walkCmd := &cobra.Command{
		Use:   "walk <elf-file> <pc> <sp>",
		Short: "Decode and execute exidx recipes starting at pc/sp",
		Args:  cobra.ExactArgs(3),
		Run:   walk,
	}
	walkCmd.Flags().Uint32Var(&loadBias, "load-bias", 0, "address the file's offset 0 is mapped at")
	walkCmd.Flags().IntVar(&maxDepth, "max-depth", 64, "maximum number of frames to walk")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log lookup and decode failures")
	rootCmd.AddCommand(walkCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
