// Command mkdisk creates a fixed-size raw disk image of BSIZE-aligned
// blocks, for exercising BufCache against something bigger than an
// in-memory fake. Adapted from biscuit/src/mkfs/mkfs.go's host-side
// image-building shape; unlike mkfs, this writes raw zeroed blocks only
// -- no inode table, directory entries, or log region, since the on-disk
// file system is out of scope here.
package main

import (
	"flag"
	"fmt"
	"os"

	"bio"
)

func main() {
	out := flag.String("o", "disk.img", "output image path")
	nblocks := flag.Int("n", 1024, "number of blocks in the image")
	flag.Parse()

	if *nblocks <= 0 {
		fmt.Fprintf(os.Stderr, "mkdisk: -n must be positive\n")
		os.Exit(1)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	block := make([]byte, bio.BSIZE)
	for i := 0; i < *nblocks; i++ {
		if _, err := f.Write(block); err != nil {
			fmt.Fprintf(os.Stderr, "mkdisk: write block %d: %v\n", i, err)
			os.Exit(1)
		}
	}

	fmt.Printf("mkdisk: wrote %d blocks (%d bytes) to %s\n", *nblocks, *nblocks*bio.BSIZE, *out)
}
