package commands

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
	"github.com/mark-i-m/zippynfs/pkg/client"
)

// The bench command is a throwaway bandwidth microbenchmark: it creates a
// scratch file and measures sequential write throughput in both durability
// modes.

var (
	benchServer string
	benchBytes  int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure write bandwidth against a running server",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().StringVarP(&benchServer, "server", "s", "", "IP:port of the server")
	benchCmd.Flags().IntVar(&benchBytes, "bytes", 1<<20, "total bytes to write per mode")
	benchCmd.MarkFlagRequired("server")
}

func runBench(cmd *cobra.Command, args []string) error {
	c, err := client.Dial(benchServer)
	if err != nil {
		return err
	}
	defer c.Close()

	name := fmt.Sprintf("bench-%d", time.Now().UnixNano())
	res, err := c.Create(zip.RootFID, name, zip.Sattr{})
	if err != nil {
		return err
	}
	fid := res.File.FID
	defer c.Remove(zip.RootFID, name)

	chunk := bytes.Repeat([]byte{0x5a}, zip.MaxBufLen)

	// Stable writes: each durable before the reply.
	start := time.Now()
	var written int
	for written < benchBytes {
		if _, err := c.Write(fid, int64(written), chunk, zip.FileSync); err != nil {
			return err
		}
		written += len(chunk)
	}
	stable := time.Since(start)
	fmt.Printf("stable:   %s for %d bytes (%.2f MB/s)\n",
		stable, written, mbps(written, stable))

	// Unstable writes drained by one commit.
	buf := client.NewFileBuffer(c, fid)
	start = time.Now()
	written = 0
	for written < benchBytes {
		if err := buf.Write(int64(written), chunk); err != nil {
			return err
		}
		written += len(chunk)
	}
	if err := buf.Commit(); err != nil {
		return err
	}
	unstable := time.Since(start)
	fmt.Printf("unstable: %s for %d bytes (%.2f MB/s)\n",
		unstable, written, mbps(written, unstable))

	return nil
}

func mbps(n int, d time.Duration) float64 {
	return float64(n) / (1 << 20) / d.Seconds()
}
