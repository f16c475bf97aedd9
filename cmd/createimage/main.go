// Command createimage assembles a bootable disk image from a bootblock,
// a kernel, and zero or more user process binaries, mirroring
// original_source/src/createimage.c's command-line shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/j-os/kernel/internal/image"
	"github.com/j-os/kernel/internal/klog"
)

const component = "createimage"

const defaultOutputPath = "./image"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("createimage", pflag.ContinueOnError)
	extended := flags.Bool("extended", false, "trace every segment write")
	vm := flags.Bool("vm", false, "lay out a demand-paged image with a process directory")
	output := flags.String("output", defaultOutputPath, "path to write the image to")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: createimage [--extended] [--vm] <bootblock> <kernel> [process...]\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return 1
	}

	rest := flags.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "createimage: missing bootblock and/or kernel")
		flags.Usage()
		return 1
	}
	bootblock, kernel, processes := rest[0], rest[1], rest[2:]

	b := image.NewBuilder(image.Options{VM: *vm, Extended: *extended})
	data, err := b.Build(bootblock, kernel, processes)
	if err != nil {
		klog.Warn(component, "build failed: %v", err)
		return 1
	}

	if err := os.WriteFile(*output, data, 0o644); err != nil {
		klog.Warn(component, "writing %s: %v", *output, err)
		return 1
	}

	klog.Debug(component, "wrote %d bytes to %s", len(data), *output)
	return 0
}
