package main

import (
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/KarpelesLab/uxfs"
)

const usage = `uxfs - uxfs volume tool

Usage:
  uxfs mkfs <device>                 Format a device or image file
  uxfs fsdb <device>                 Interactive on-disk inspector
  uxfs mount <device> <dir>          Mount the volume through FUSE
  uxfs ls <device> [<path>]          List files on a volume
  uxfs cat <device> <file>           Display contents of a file on a volume
  uxfs info <device>                 Display information about a volume
  uxfs tar <device> <out>            Export the tree as a tarball
                                     (.tar, .tar.zst or .tar.xz by extension)
  uxfs help                          Show this help message

Examples:
  uxfs mkfs disk.img                 Create a fresh 255 KiB volume image
  uxfs ls disk.img lost+found        List the lost+found directory
  uxfs tar disk.img backup.tar.zst   Export everything, zstd-compressed
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "mkfs":
		err = withArgs(2, func(args []string) error {
			return uxfs.MkfsPath(args[0])
		})
	case "fsdb":
		err = withArgs(2, func(args []string) error {
			return uxfs.Fsdb(args[0], os.Stdin, os.Stdout)
		})
	case "mount":
		err = withArgs(3, func(args []string) error {
			return mountVolume(args[0], args[1])
		})
	case "ls":
		err = withArgs(2, func(args []string) error {
			dir := "."
			if len(args) > 1 {
				dir = args[1]
			}
			return listFiles(args[0], dir)
		})
	case "cat":
		err = withArgs(3, func(args []string) error {
			return catFile(args[0], args[1])
		})
	case "info":
		err = withArgs(2, func(args []string) error {
			return showInfo(args[0])
		})
	case "tar":
		err = withArgs(3, func(args []string) error {
			return exportTar(args[0], args[1])
		})
	case "help":
		fmt.Print(usage)
	default:
		fmt.Printf("Error: Unknown command '%s'\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// withArgs runs fn with os.Args past the subcommand, after checking the
// minimum count (subcommand included).
func withArgs(min int, fn func(args []string) error) error {
	if len(os.Args) < min+1 {
		fmt.Print(usage)
		os.Exit(1)
	}
	return fn(os.Args[2:])
}

// openRO opens a volume read-only for the inspection subcommands.
func openRO(path string) (*uxfs.Superblock, error) {
	sb, err := uxfs.Open(path, uxfs.ReadOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to open volume: %w", err)
	}
	return sb, nil
}

func mountVolume(device, dir string) error {
	sb, err := uxfs.Open(device)
	if err != nil {
		return fmt.Errorf("failed to open volume: %w", err)
	}

	srv, err := uxfs.Mount(dir, sb, nil)
	if err != nil {
		sb.Close()
		return fmt.Errorf("failed to mount: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		srv.Unmount()
	}()

	srv.Wait()
	return sb.Close()
}

// printFileInfo prints file information in a consistent format
func printFileInfo(path string, info fs.FileInfo) {
	typeChar := "-"
	if info.IsDir() {
		typeChar = "d"
	}

	mode := info.Mode().String()
	permissions := mode[1:] // Skip the type character

	size := fmt.Sprintf("%8d", info.Size())
	if info.IsDir() {
		size = "       -"
	}

	timeStr := info.ModTime().Format("Jan 02 15:04")

	fmt.Printf("%s%s %s %s %s\n", typeChar, permissions, size, timeStr, path)
}

// listFiles lists files on the volume in the specified path
func listFiles(device, dirPath string) error {
	sb, err := openRO(device)
	if err != nil {
		return err
	}
	defer sb.Close()

	if dirPath != "." {
		info, err := fs.Stat(sb, dirPath)
		if err != nil {
			return fmt.Errorf("path '%s' not found: %w", dirPath, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("'%s' is not a directory", dirPath)
		}
	}

	entries, err := fs.ReadDir(sb, dirPath)
	if err != nil {
		return fmt.Errorf("failed to read directory '%s': %w", dirPath, err)
	}

	for _, entry := range entries {
		displayPath := entry.Name()
		if dirPath != "." {
			displayPath = dirPath + "/" + entry.Name()
		}

		info, err := entry.Info()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to get info for '%s': %s\n", displayPath, err)
			continue
		}
		printFileInfo(displayPath, info)
	}
	return nil
}

// catFile displays the contents of a file from the volume
func catFile(device, filePath string) error {
	sb, err := openRO(device)
	if err != nil {
		return err
	}
	defer sb.Close()

	data, err := fs.ReadFile(sb, filePath)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", filePath, err)
	}

	_, err = os.Stdout.Write(data)
	return err
}

// showInfo displays metadata information about a volume
func showInfo(device string) error {
	sb, err := openRO(device)
	if err != nil {
		return err
	}
	defer sb.Close()

	st := sb.Statfs()

	fmt.Println("uxfs Volume Information")
	fmt.Println("=======================")
	fmt.Printf("Magic:            0x%x\n", sb.Magic)
	fmt.Printf("State:            %s\n", sb.Mod)
	fmt.Printf("Block size:       %d bytes\n", st.Bsize)
	fmt.Printf("Data blocks:      %d (%d free)\n", st.TotalBlks, st.FreeBlks)
	fmt.Printf("Inodes:           %d (%d free)\n", st.TotalFiles, st.FreeFiles)
	fmt.Printf("Max name length:  %d\n", st.NameMax)

	var fileCount, dirCount int
	countFilesAndDirs(sb, ".", &fileCount, &dirCount)

	fmt.Println("\nContent Summary")
	fmt.Println("---------------")
	fmt.Printf("Directories:      %d\n", dirCount)
	fmt.Printf("Regular files:    %d\n", fileCount)
	return nil
}

// countFilesAndDirs recursively counts files and directories on the volume
func countFilesAndDirs(fsys fs.FS, dir string, fileCount, dirCount *int) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			*dirCount++
			subdir := entry.Name()
			if dir != "." {
				subdir = dir + "/" + entry.Name()
			}
			countFilesAndDirs(fsys, subdir, fileCount, dirCount)
		} else {
			*fileCount++
		}
	}
}

// exportTar writes the volume tree to a tarball, compressed according to
// the output file extension
func exportTar(device, out string) error {
	sb, err := openRO(device)
	if err != nil {
		return err
	}
	defer sb.Close()

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err = sb.WriteTar(f, uxfs.CompressionForPath(out)); err != nil {
		f.Close()
		os.Remove(out)
		return fmt.Errorf("failed to export '%s': %w", out, err)
	}
	return f.Close()
}
