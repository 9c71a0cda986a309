// Package kfmt provides a minimal Printf implementation used by every
// kernel subsystem instead of the standard library's fmt package. Before
// the board's console/tty driver (owned by the out-of-scope root server)
// attaches an output sink, output is buffered in a ring buffer and can be
// replayed once a sink becomes available.
package kfmt

import "io"

// maxBufSize is the scratch buffer size used when formatting integers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf = []byte("012345678901234567890123456789012")

	// earlyPrintBuffer captures Printf output before SetOutputSink is
	// called for the first time.
	earlyPrintBuffer ringBuffer

	// outputSink is where Printf sends its output. Nil routes to
	// earlyPrintBuffer instead.
	outputSink io.Writer
)

// SetOutputSink sets the target for subsequent Printf calls and flushes
// anything accumulated in the early ring buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf implements a small subset of fmt.Printf's verbs:
//
//	%s  string or []byte, left-padded with spaces to an optional width
//	%d  base-10 integer, left-padded with spaces
//	%o  base-8 integer, left-padded with zeroes
//	%x  base-16 integer (lower-case), left-padded with zeroes
//	%t  "true" or "false"
//	%%  a literal percent sign
//
// Width is an optional decimal number immediately preceding the verb. No
// other formatting features (precision, +/- flags, %v, %p, ...) are
// supported.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to the given io.Writer instead of
// the default sink.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		fmtLen                       = len(format)
	)

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		if blockStart < blockEnd {
			write(w, []byte(format[blockStart:blockEnd]))
		}

		padLen = 0
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				write(w, []byte{'%'})
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'd' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't':
				if nextArgIndex >= len(args) {
					write(w, errMissingArg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					fmtInt(w, args[nextArgIndex], 8, padLen)
				case 'd':
					fmtInt(w, args[nextArgIndex], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArgIndex], 16, padLen)
				case 's':
					fmtString(w, args[nextArgIndex], padLen)
				case 't':
					fmtBool(w, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			default:
				write(w, errNoVerb)
				break parseFmt
			}
		}
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	if blockStart != blockEnd {
		write(w, []byte(format[blockStart:blockEnd]))
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		write(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	if !ok {
		write(w, errWrongArgType)
		return
	}
	if b {
		write(w, trueValue)
	} else {
		write(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, padLen int) {
	switch val := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(val))
		write(w, []byte(val))
	case []byte:
		fmtRepeat(w, ' ', padLen-len(val))
		write(w, val)
	default:
		write(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	if count <= 0 {
		return
	}
	pad := make([]byte, count)
	for i := range pad {
		pad[i] = ch
	}
	write(w, pad)
}

// fmtInt prints v (any built-in signed/unsigned integer type) in the given
// base, left-padded to padLen.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval             int64
		uval             uint64
		divider          uint64
		remainder        uint64
		padCh            byte
		left, right, end int
	)

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	switch base {
	case 8:
		divider, padCh = 8, '0'
	case 10:
		divider, padCh = 10, ' '
	case 16:
		divider, padCh = 16, '0'
	}

	switch val := v.(type) {
	case uint8:
		uval = uint64(val)
	case uint16:
		uval = uint64(val)
	case uint32:
		uval = uint64(val)
	case uint64:
		uval = val
	case uintptr:
		uval = uint64(val)
	case int8:
		sval = int64(val)
	case int16:
		sval = int64(val)
	case int32:
		sval = int64(val)
	case int64:
		sval = val
	case int:
		sval = int64(val)
	default:
		write(w, errWrongArgType)
		return
	}

	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for right < maxBufSize {
		remainder = uval % divider
		if remainder < 10 {
			numFmtBuf[right] = byte(remainder) + '0'
		} else {
			numFmtBuf[right] = byte(remainder-10) + 'a'
		}
		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	for ; right-left < padLen; right++ {
		numFmtBuf[right] = padCh
	}

	if sval < 0 {
		for end = right - 1; numFmtBuf[end] == ' '; end-- {
		}
		if end == right-1 {
			right++
		}
		numFmtBuf[end+1] = '-'
	}

	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		numFmtBuf[left], numFmtBuf[right] = numFmtBuf[right], numFmtBuf[left]
	}

	write(w, numFmtBuf[0:end])
}

func write(w io.Writer, p []byte) {
	if w != nil {
		w.Write(p)
		return
	}
	earlyPrintBuffer.Write(p)
}
