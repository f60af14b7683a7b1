package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
	"github.com/mark-i-m/zippynfs/pkg/client"
)

// The rpc command is a debugging tool: it issues exactly one RPC against a
// running server and prints the result.

var rpcServer string

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Issue a single RPC against a running server",
	Long: `Issue a single RPC against a running server and print the result.
Intended for debugging and scripting.

Examples:
  zippynfs rpc --server 127.0.0.1:7878 null
  zippynfs rpc --server 127.0.0.1:7878 mkdir 1 projects
  zippynfs rpc --server 127.0.0.1:7878 readdir 1`,
}

func init() {
	rpcCmd.PersistentFlags().StringVarP(&rpcServer, "server", "s", "", "IP:port of the server")
	rpcCmd.MarkPersistentFlagRequired("server")

	rpcCmd.AddCommand(rpcNullCmd)
	rpcCmd.AddCommand(rpcGetAttrCmd)
	rpcCmd.AddCommand(rpcLookupCmd)
	rpcCmd.AddCommand(rpcReadDirCmd)
	rpcCmd.AddCommand(rpcReadCmd)
	rpcCmd.AddCommand(rpcWriteCmd)
	rpcCmd.AddCommand(rpcCreateCmd)
	rpcCmd.AddCommand(rpcMkDirCmd)
	rpcCmd.AddCommand(rpcRemoveCmd)
	rpcCmd.AddCommand(rpcRmDirCmd)
	rpcCmd.AddCommand(rpcRenameCmd)
	rpcCmd.AddCommand(rpcCommitCmd)
	rpcCmd.AddCommand(rpcStatFsCmd)
}

func rpcClient() (*client.Client, error) {
	return client.Dial(rpcServer)
}

func parseFid(arg string) (uint64, error) {
	fid, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fid %q: %w", arg, err)
	}
	return fid, nil
}

func printAttrs(attrs *zip.Fattr) {
	fmt.Printf("fid=%d type=%s size=%d blocks=%d mtime=%d.%06d\n",
		attrs.FID, attrs.Type, attrs.Size, attrs.Blocks,
		attrs.Mtime.Seconds, attrs.Mtime.Useconds)
}

var rpcNullCmd = &cobra.Command{
	Use:   "null",
	Short: "Ping the server and print its epoch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()

		epoch, err := c.Null()
		if err != nil {
			return err
		}
		fmt.Printf("epoch=%d\n", epoch)
		return nil
	},
}

var rpcGetAttrCmd = &cobra.Command{
	Use:   "getattr <fid>",
	Short: "Fetch the attributes of a FID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()

		attrs, err := c.GetAttr(fid)
		if err != nil {
			return err
		}
		printAttrs(attrs)
		return nil
	},
}

var rpcLookupCmd = &cobra.Command{
	Use:   "lookup <dirfid> <name>",
	Short: "Look up a name in a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirFid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.Lookup(dirFid, args[1])
		if err != nil {
			return err
		}
		printAttrs(&res.Attributes)
		return nil
	},
}

var rpcReadDirCmd = &cobra.Command{
	Use:   "readdir <dirfid> [offset]",
	Short: "List a directory",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirFid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		var offset int64
		if len(args) == 2 {
			offset, err = strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid offset %q: %w", args[1], err)
			}
		}

		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()

		entries, err := c.ReadDir(dirFid, offset)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"FID", "NAME", "TYPE"})
		table.SetBorder(false)
		for _, e := range entries {
			table.Append([]string{
				strconv.FormatUint(e.FID, 10),
				e.Name,
				e.Type.String(),
			})
		}
		table.Render()
		return nil
	},
}

var rpcReadCmd = &cobra.Command{
	Use:   "read <fid> <offset> <count>",
	Short: "Read bytes from a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		fid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", args[1], err)
		}
		count, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[2], err)
		}

		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.Read(fid, offset, uint32(count))
		if err != nil {
			return err
		}
		os.Stdout.Write(res.Data)
		return nil
	},
}

var rpcWriteUnstable bool

var rpcWriteCmd = &cobra.Command{
	Use:   "write <fid> <offset> <data>",
	Short: "Write bytes to a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		fid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		offset, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", args[1], err)
		}

		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()

		stable := zip.FileSync
		if rpcWriteUnstable {
			stable = zip.Unstable
		}
		res, err := c.Write(fid, offset, []byte(args[2]), stable)
		if err != nil {
			return err
		}
		fmt.Printf("count=%d committed=%s verf=%d\n", res.Count, res.Committed, res.Verf)
		return nil
	},
}

func init() {
	rpcWriteCmd.Flags().BoolVar(&rpcWriteUnstable, "unstable", false, "buffer the write instead of syncing it")
}

var rpcCreateCmd = &cobra.Command{
	Use:   "create <dirfid> <name>",
	Short: "Create a regular file",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return rpcCreate(args, false) },
}

var rpcMkDirCmd = &cobra.Command{
	Use:   "mkdir <dirfid> <name>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return rpcCreate(args, true) },
}

func rpcCreate(args []string, isDir bool) error {
	dirFid, err := parseFid(args[0])
	if err != nil {
		return err
	}
	c, err := rpcClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var res *zip.DirOpRes
	if isDir {
		res, err = c.MkDir(dirFid, args[1], zip.Sattr{})
	} else {
		res, err = c.Create(dirFid, args[1], zip.Sattr{})
	}
	if err != nil {
		return err
	}
	printAttrs(&res.Attributes)
	return nil
}

var rpcRemoveCmd = &cobra.Command{
	Use:   "remove <dirfid> <name>",
	Short: "Delete a regular file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirFid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Remove(dirFid, args[1])
	},
}

var rpcRmDirCmd = &cobra.Command{
	Use:   "rmdir <dirfid> <name>",
	Short: "Delete an empty directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirFid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.RmDir(dirFid, args[1])
	},
}

var rpcRenameCmd = &cobra.Command{
	Use:   "rename <olddirfid> <oldname> <newdirfid> <newname>",
	Short: "Rename an object",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldDir, err := parseFid(args[0])
		if err != nil {
			return err
		}
		newDir, err := parseFid(args[2])
		if err != nil {
			return err
		}
		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Rename(oldDir, args[1], newDir, args[3])
	},
}

var rpcCommitCmd = &cobra.Command{
	Use:   "commit <fid>",
	Short: "Flush a file's unstable writes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.Commit(fid, 0, 0)
		if err != nil {
			return err
		}
		fmt.Printf("verf=%d\n", res.Verf)
		return nil
	},
}

var rpcStatFsCmd = &cobra.Command{
	Use:   "statfs <fid>",
	Short: "Fetch the filesystem summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fid, err := parseFid(args[0])
		if err != nil {
			return err
		}
		c, err := rpcClient()
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.StatFs(fid)
		if err != nil {
			return err
		}
		fmt.Printf("tsize=%d bsize=%d blocks=%d bfree=%d bavail=%d\n",
			res.Tsize, res.Bsize, res.Blocks, res.Bfree, res.Bavail)
		return nil
	},
}
