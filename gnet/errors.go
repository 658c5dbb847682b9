package gnet

import "fmt"

// MalformedFrameError reports a capture record too short for the header being
// decoded. The frame is skipped; decoding never panics on short input.
type MalformedFrameError struct {
	Layer  string // which header was being parsed
	Offset int    // where that header starts in the record
	Need   int    // bytes the header requires
	Have   int    // bytes actually available from Offset
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: truncated %s header at offset %d: need %d bytes, have %d",
		e.Layer, e.Offset, e.Need, e.Have)
}
