package main

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/moby/go-archive"
	"github.com/moby/go-archive/compression"
)

// runBackup snapshots the monitor data directory (robot state store and the
// embedded NATS JetStream dir) into a zstd-compressed tarball.
func runBackup(args []string) error {
	var outputPath string
	dataDir := "data"

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		case "-dir":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -dir")
			}
			i++
			dataDir = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: fleetmon backup -f <output.tar.zst> [-dir <data-dir>]\n")
		return fmt.Errorf("missing -f flag")
	}

	if _, err := os.Stat(dataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	reader, err := archive.TarWithOptions(dataDir, &archive.TarOptions{
		Compression: compression.None,
	})
	if err != nil {
		return fmt.Errorf("tar data dir: %w", err)
	}
	defer reader.Close()

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	if _, err := io.Copy(zw, reader); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	// Close explicitly to catch write errors
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %s, %s\n", dataDir, formatSize(size))
	return nil
}

// runRestore unpacks a backup archive into the data directory. The monitor
// must be stopped; refuses a non-empty target unless -overwrite is set.
func runRestore(args []string) error {
	var inputPath string
	dataDir := "data"
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-dir":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -dir")
			}
			i++
			dataDir = args[i]
		case "-overwrite":
			overwrite = true
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: fleetmon restore -f <backup.tar.zst> [-dir <data-dir>] [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	if !overwrite {
		entries, err := os.ReadDir(dataDir)
		if err == nil && len(entries) > 0 {
			return fmt.Errorf("data dir %s is not empty, add -overwrite to replace files", dataDir)
		}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	if err := archive.Untar(zr.IOReadCloser(), dataDir, &archive.TarOptions{}); err != nil {
		return fmt.Errorf("unpack archive: %w", err)
	}

	fmt.Printf("Restore complete: %s\n", dataDir)
	return nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
