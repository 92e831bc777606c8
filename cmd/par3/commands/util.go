package commands

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/marmos91/par3/internal/bytesize"
	"github.com/marmos91/par3/pkg/par3"
)

// parseSizeFlag parses a human-readable size flag ("1Mi", "4096", ...).
func parseSizeFlag(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := bytesize.ParseByteSize(s)
	if err != nil {
		return 0, par3.NewError(par3.KindInvalidCommand, err)
	}
	return uint64(v), nil
}

// collectInputs resolves the input arguments against the base directory.
// Arguments may be plain paths, directories (recursed with -R), or
// doublestar glob patterns like "data/**/*.bin".
func collectInputs(base string, args []string, recurse bool) ([]par3.InputFile, []string, error) {
	if base == "" {
		base = "."
	}

	var files []par3.InputFile
	var dirs []string
	seen := map[string]bool{}

	addFile := func(rel string) error {
		rel = filepath.ToSlash(rel)
		if seen[rel] {
			return nil
		}
		name, err := par3.NormalizePath(rel)
		if err != nil {
			return par3.NewError(par3.KindInvalidCommand, err)
		}
		disk := filepath.Join(base, filepath.FromSlash(name))
		st, err := os.Stat(disk)
		if err != nil {
			return par3.NewError(par3.KindFileIO, fmt.Errorf("stat %s: %w", disk, err))
		}
		if st.IsDir() {
			return nil
		}
		seen[rel] = true
		files = append(files, par3.InputFile{DiskPath: disk, Name: name, Size: uint64(st.Size())})
		return nil
	}

	addDir := func(rel string) error {
		rel = filepath.ToSlash(rel)
		dirs = append(dirs, rel)
		if !recurse {
			return nil
		}
		root := filepath.Join(base, filepath.FromSlash(rel))
		return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			relPath, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			if d.IsDir() {
				if relPath != rel {
					dirs = append(dirs, filepath.ToSlash(relPath))
				}
				return nil
			}
			return addFile(relPath)
		})
	}

	for _, arg := range args {
		if strings.ContainsAny(arg, "*?[{") {
			matches, err := doublestar.Glob(os.DirFS(base), filepath.ToSlash(arg))
			if err != nil {
				return nil, nil, par3.NewError(par3.KindInvalidCommand, fmt.Errorf("bad pattern %q: %w", arg, err))
			}
			if len(matches) == 0 {
				return nil, nil, par3.NewError(par3.KindFileIO, fmt.Errorf("pattern %q matches nothing", arg))
			}
			for _, m := range matches {
				st, err := os.Stat(filepath.Join(base, filepath.FromSlash(m)))
				if err != nil {
					continue
				}
				if st.IsDir() {
					if err := addDir(m); err != nil {
						return nil, nil, err
					}
				} else if err := addFile(m); err != nil {
					return nil, nil, err
				}
			}
			continue
		}

		st, err := os.Stat(filepath.Join(base, filepath.FromSlash(arg)))
		if err != nil {
			return nil, nil, par3.NewError(par3.KindFileIO, fmt.Errorf("stat %s: %w", arg, err))
		}
		if st.IsDir() {
			if err := addDir(arg); err != nil {
				return nil, nil, err
			}
		} else if err := addFile(arg); err != nil {
			return nil, nil, err
		}
	}

	return files, dirs, nil
}

// eccFromFlag maps the -e flag (or config default) to a codec.
func eccFromFlag(flag int, fallback string) (par3.ECCMethod, error) {
	switch flag {
	case 0:
		if fallback == "fft" {
			return par3.ECCFFT, nil
		}
		return par3.ECCCauchy, nil
	case int(par3.ECCCauchy):
		return par3.ECCCauchy, nil
	case int(par3.ECCFFT):
		return par3.ECCFFT, nil
	default:
		return 0, par3.NewError(par3.KindInvalidCommand,
			fmt.Errorf("unknown ecc selector %d (1=Cauchy, 8=FFT)", flag))
	}
}

// sizingFromFlags builds the recovery-file sizing scheme.
func sizingFromFlags(uniform bool, fileCount int, limit string) (par3.Sizing, error) {
	switch {
	case uniform && fileCount > 0:
		return par3.Sizing{Scheme: par3.SizingUniform, FileCount: fileCount}, nil
	case uniform:
		return par3.Sizing{}, par3.NewError(par3.KindInvalidCommand,
			fmt.Errorf("--uniform requires --files"))
	case limit != "":
		l, err := parseSizeFlag(limit)
		if err != nil {
			return par3.Sizing{}, err
		}
		return par3.Sizing{Scheme: par3.SizingLimited, SizeLimit: l}, nil
	case fileCount > 0:
		return par3.Sizing{Scheme: par3.SizingVariable, FileCount: fileCount}, nil
	default:
		return par3.Sizing{Scheme: par3.SizingPowerOfTwo}, nil
	}
}
