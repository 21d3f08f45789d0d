// buildimg writes a boot disk image to a local file without uploading it.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/stdr"
	"github.com/spf13/pflag"

	"github.com/appkins-org/xen-bootdisk/internal/bootdisk"
)

func check(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	kernel := pflag.StringP("kernel", "k", "", "kernel to place on the image")
	output := pflag.StringP("output", "o", "disk.img", "image file to write")
	verify := pflag.Bool("verify", false, "read the image back and compare it with the kernel")
	pflag.Parse()

	if *kernel == "" {
		log.Fatal("--kernel is required")
	}

	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	disk, err := bootdisk.Build(context.Background(), logger, *kernel)
	check(err)

	f, err := os.Create(*output)
	check(err)
	defer f.Close()

	n, err := disk.WriteTo(f)
	check(err)
	logger.Info("wrote image", "path", *output, "size", humanize.IBytes(uint64(n)))

	if !*verify {
		return
	}

	got, err := bootdisk.Inspect(f, bootdisk.DefaultGeometry())
	check(err)
	want, err := os.ReadFile(*kernel)
	check(err)
	// the read-back is padded to whole clusters
	if len(got.Kernel) < len(want) || !bytes.Equal(got.Kernel[:len(want)], want) {
		log.Fatalf("verify: /kernel differs from %s", *kernel)
	}
	fmt.Printf("partition start=%d size=%d type=%#02x bootable=%t\n", got.Start, got.Size, got.Type, got.Bootable)
	fmt.Printf("%s", got.Menu)
}
