package gapstring

import (
	"fmt"
	"io"
	"strings"
)

const printable = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890!@#$%^&*()[]{}`~/=-\\?+|',.\"<>: "

// HexDump writes a 16-bytes-per-row hex dump of g. Missing bytes show as
// "--" in the hex columns and "◆" in the character column. The final line is
// the total length as an offset.
func (g GapString) HexDump(w io.Writer) error {
	d := dumper{w: w}
	for _, s := range g.seg {
		if s.data != nil {
			for _, b := range s.data {
				if err := d.dumpByte(b); err != nil {
					return err
				}
			}
		} else {
			for i := int64(0); i < s.gap; i++ {
				if err := d.dumpGap(); err != nil {
					return err
				}
			}
		}
	}
	return d.finish()
}

// HexDumpString renders HexDump into a string.
func (g GapString) HexDumpString() string {
	var sb strings.Builder
	g.HexDump(&sb)
	return sb.String()
}

type cell struct {
	b       byte
	present bool
}

type dumper struct {
	w      io.Writer
	offset int64
	row    []cell
}

func toPrintable(c cell) string {
	switch {
	case !c.present:
		return "◆"
	case strings.IndexByte(printable, c.b) >= 0:
		return string(c.b)
	case c.b == 0:
		return "␀"
	case c.b == '\r':
		return "␍"
	case c.b == '\n':
		return "␤"
	default:
		return "·"
	}
}

func (d *dumper) flush() error {
	if len(d.row) == 0 {
		return nil
	}

	hex := make([]string, 16)
	var chars strings.Builder
	for i := 0; i < 16; i++ {
		if i < len(d.row) {
			c := d.row[i]
			if c.present {
				hex[i] = fmt.Sprintf("%02x", c.b)
			} else {
				hex[i] = "--"
			}
			chars.WriteString(toPrintable(c))
		} else {
			hex[i] = "  "
		}
	}

	_, err := fmt.Fprintf(d.w, "%08x  %s  %s  ║%s║\n",
		d.offset,
		strings.Join(hex[:8], " "),
		strings.Join(hex[8:], " "),
		chars.String())
	if err != nil {
		return err
	}

	d.row = d.row[:0]
	d.offset += 16
	return nil
}

func (d *dumper) push(c cell) error {
	d.row = append(d.row, c)
	if len(d.row) == 16 {
		return d.flush()
	}
	return nil
}

func (d *dumper) dumpByte(b byte) error {
	return d.push(cell{b: b, present: true})
}

func (d *dumper) dumpGap() error {
	return d.push(cell{})
}

func (d *dumper) finish() error {
	rem := int64(len(d.row))
	if err := d.flush(); err != nil {
		return err
	}
	// flush advanced a full row; report the true end offset.
	if rem > 0 {
		d.offset += rem - 16
	}
	_, err := fmt.Fprintf(d.w, "%08x\n", d.offset)
	return err
}
