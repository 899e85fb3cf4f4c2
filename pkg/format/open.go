package format

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Options carries the per-format settings Open needs.
type Options struct {
	// IMFFrequency is the IMF playback rate in Hz. Zero resolves the rate
	// from Frequencies using the file extension.
	IMFFrequency int
	Frequencies  FrequencyTable
	// StrictVGM rejects VGM files without a YM3812 clock.
	StrictVGM bool
}

// Extensions lists the file extensions Open understands.
var Extensions = []string{"imf", "wlf", "vgm", "vgz", "dro"}

// Ext normalises a file name or extension to the lower-case key Open
// expects.
func Ext(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = name
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Open selects a decoder by file extension. VGM input that turns out to be
// gzip-compressed is decoded as VGZ.
func Open(ext string, r io.Reader, opts Options) (Stream, error) {
	ext = Ext(ext)
	var vgmOpts []VGMOption
	if opts.StrictVGM {
		vgmOpts = append(vgmOpts, WithStrictClock())
	}

	switch ext {
	case "imf", "wlf":
		hz := opts.IMFFrequency
		if hz == 0 {
			table := opts.Frequencies
			if table.Names == nil {
				table = DefaultFrequencies()
			}
			hz = table.Lookup(ext)
		}
		return NewIMF(r, hz)
	case "vgm":
		br := bufio.NewReader(r)
		if isGzip(br) {
			return NewVGZ(br, vgmOpts...)
		}
		return NewVGM(br, vgmOpts...)
	case "vgz":
		return NewVGZ(r, vgmOpts...)
	case "dro":
		return NewDRO(r)
	default:
		return nil, fmt.Errorf("unrecognized file extension: %q", ext)
	}
}
