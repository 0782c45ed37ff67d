// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package fits

import (
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// Reads the FITS header of the file with the given name, without data
func NewImageHeaderFromFile(fileName string, id int, logWriter io.Writer) (i *Image, err error) {
	i = NewImage()
	i.ID = id
	return i, i.ReadFile(fileName, false, logWriter)
}

// Reads the FITS file with the given name, including data
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (i *Image, err error) {
	i = NewImage()
	i.ID = id
	return i, i.ReadFile(fileName, true, logWriter)
}

// Returns true if the file name indicates gzip compression
func isGzip(fileName string) bool {
	lExt := strings.ToLower(path.Ext(fileName))
	return lExt == ".gz" || lExt == ".gzip"
}

// Opens the file with the given name, decompressing gzip if .gz or .gzip suffix is present.
// The returned seeker is nil for compressed files
func openFile(fileName string) (r io.Reader, s io.Seeker, c io.Closer, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, nil, nil, err
	}
	if !isGzip(fileName) {
		return f, f, f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	return gz, nil, f, nil
}

// Read FITS data from the file with the given name. Decompresses gzip if .gz or gzip suffix is present.
// Reads metadata only (fast) if readData is false.
func (fits *Image) ReadFile(fileName string, readData bool, logWriter io.Writer) error {
	r, _, c, err := openFile(fileName)
	if err != nil {
		return err
	}
	defer c.Close()

	fits.FileName = fileName
	return fits.Read(r, readData, logWriter)
}

func (fits *Image) PopHeaderInt32(key string) (res int32, err error) {
	if val, ok := fits.Header.Ints[key]; ok {
		delete(fits.Header.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", fits.ID, key)
}

func (fits *Image) PopHeaderInt32OrFloat(key string) (res float32, err error) {
	if val, ok := fits.Header.Ints[key]; ok {
		delete(fits.Header.Ints, key)
		return float32(val), nil
	} else if val, ok := fits.Header.Floats[key]; ok {
		delete(fits.Header.Floats, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", fits.ID, key)
}

func (fits *Image) Read(f io.Reader, readData bool, logWriter io.Writer) (err error) {
	err = fits.Header.read(f, fits.ID, logWriter)
	if err != nil {
		return err
	}

	// check mandatory fields as per standard
	if !fits.Header.Bools["SIMPLE"] {
		return fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", fits.ID)
	}
	delete(fits.Header.Bools, "SIMPLE")

	if fits.Bitpix, err = fits.PopHeaderInt32("BITPIX"); err != nil {
		return err
	}
	if _, err = bytesPerValue(fits.Bitpix); err != nil {
		return fmt.Errorf("%d: %w", fits.ID, err)
	}
	var naxis int32
	if naxis, err = fits.PopHeaderInt32("NAXIS"); err != nil {
		return err
	}
	fits.Naxisn = make([]int32, naxis)
	fits.Pixels = int32(1)
	for i := int32(1); i <= naxis; i++ {
		name := "NAXIS" + strconv.FormatInt(int64(i), 10)
		var nai int32
		if nai, err = fits.PopHeaderInt32(name); err != nil {
			return err
		}
		fits.Naxisn[i-1] = nai
		fits.Pixels *= int32(nai)
	}

	// check key optional fields relevant for scaling
	if fits.Bzero, err = fits.PopHeaderInt32OrFloat("BZERO"); err != nil {
		fits.Bzero = 0
	}
	if fits.Bscale, err = fits.PopHeaderInt32OrFloat("BSCALE"); err != nil {
		fits.Bscale = 1
	}
	if exp, ok := fits.Header.Float("EXPTIME"); ok {
		fits.Exposure = exp
	} else if exp, ok := fits.Header.Float("EXPOSURE"); ok {
		fits.Exposure = exp
	}

	if fits.Bitpix == 32 || fits.Bitpix == 64 || fits.Bitpix == -64 {
		logf(logWriter, "%d: Warning: loss of precision converting BITPIX %d to float32 values\n", fits.ID, fits.Bitpix)
	}
	if !readData {
		return nil
	}
	fits.Data = make([]float32, int(fits.Pixels))
	if err = readValues(f, fits.Bitpix, fits.Bscale, fits.Bzero, fits.Data); err != nil {
		return fmt.Errorf("%d: %w", fits.ID, err)
	}
	fits.Bzero, fits.Bscale = 0, 1 // reflect that data values incorporate these now
	return nil
}

// Reads rows [start, end) of every channel plane from the file into dst, channel-planar with
// (end-start) rows per plane. The header must have been read. Seeks to each plane when the
// file is uncompressed, else skips forward in the decompressed stream
func (fits *Image) ReadRowsFromFile(start, end int, dst []float32) error {
	if len(fits.Naxisn) < 2 {
		return fmt.Errorf("%d: image %s has %d axes, want at least 2", fits.ID, fits.FileName, len(fits.Naxisn))
	}
	width, height := int(fits.Naxisn[0]), int(fits.Naxisn[1])
	planes := int(fits.Pixels) / (width * height)
	rows := end - start
	if start < 0 || end > height || rows <= 0 {
		return fmt.Errorf("%d: rows [%d,%d) outside image height %d", fits.ID, start, end, height)
	}
	if len(dst) < planes*rows*width {
		return fmt.Errorf("%d: buffer of %d values too small for %d", fits.ID, len(dst), planes*rows*width)
	}
	bpv, err := bytesPerValue(fits.Bitpix)
	if err != nil {
		return fmt.Errorf("%d: %w", fits.ID, err)
	}

	r, s, c, err := openFile(fits.FileName)
	if err != nil {
		return err
	}
	defer c.Close()

	pos := int64(0)
	for p := 0; p < planes; p++ {
		offset := int64(fits.Header.Length) + int64(p*height*width+start*width)*int64(bpv)
		if s != nil {
			if _, err := s.Seek(offset, io.SeekStart); err != nil {
				return fmt.Errorf("%d: %w", fits.ID, err)
			}
		} else if _, err := io.CopyN(io.Discard, r, offset-pos); err != nil {
			return fmt.Errorf("%d: skipping to plane %d: %w", fits.ID, p, err)
		}
		if err := readValues(r, fits.Bitpix, fits.Bscale, fits.Bzero, dst[p*rows*width:(p+1)*rows*width]); err != nil {
			return fmt.Errorf("%d: reading plane %d: %w", fits.ID, p, err)
		}
		pos = offset + int64(rows*width*bpv)
	}
	return nil
}

// Returns the number of bytes per value for the given BITPIX
func bytesPerValue(bitpix int32) (int, error) {
	switch bitpix {
	case 8:
		return 1, nil
	case 16:
		return 2, nil
	case 32, -32:
		return 4, nil
	case 64, -64:
		return 8, nil
	}
	return 0, fmt.Errorf("Unknown BITPIX value %d", bitpix)
}

const bufLen int = 16 * 1024 // input buffer length for reading from file

// Batched read of len(dst) values of the given BITPIX type, converting from network byte order
// and applying bscale and bzero
func readValues(r io.Reader, bitpix int32, bscale, bzero float32, dst []float32) error {
	bpv, err := bytesPerValue(bitpix)
	if err != nil {
		return err
	}
	buf := make([]byte, bufLen)
	valuesPerBuf := bufLen / bpv

	for dataIndex := 0; dataIndex < len(dst); {
		n := len(dst) - dataIndex
		if n > valuesPerBuf {
			n = valuesPerBuf
		}
		if _, err := io.ReadFull(r, buf[:n*bpv]); err != nil {
			return err
		}
		decodeValues(buf[:n*bpv], bitpix, bscale, bzero, dst[dataIndex:dataIndex+n])
		dataIndex += n
	}
	return nil
}

// Decodes big endian values of the given BITPIX type into dst, applying bscale and bzero
func decodeValues(buf []byte, bitpix int32, bscale, bzero float32, dst []float32) {
	switch bitpix {
	case 8:
		for i := range dst {
			dst[i] = float32(buf[i])*bscale + bzero
		}
	case 16:
		for i := range dst {
			val := int16((uint16(buf[2*i]) << 8) | uint16(buf[2*i+1]))
			dst[i] = float32(val)*bscale + bzero
		}
	case 32:
		for i := range dst {
			b := buf[4*i:]
			val := int32((uint32(b[0]) << 24) | (uint32(b[1]) << 16) | (uint32(b[2]) << 8) | uint32(b[3]))
			dst[i] = float32(val)*bscale + bzero
		}
	case 64:
		for i := range dst {
			b := buf[8*i:]
			val := int64((uint64(b[0]) << 56) | (uint64(b[1]) << 48) | (uint64(b[2]) << 40) | (uint64(b[3]) << 32) |
				(uint64(b[4]) << 24) | (uint64(b[5]) << 16) | (uint64(b[6]) << 8) | uint64(b[7]))
			dst[i] = float32(val)*bscale + bzero
		}
	case -32:
		for i := range dst {
			b := buf[4*i:]
			bits := (uint32(b[0]) << 24) | (uint32(b[1]) << 16) | (uint32(b[2]) << 8) | uint32(b[3])
			dst[i] = math.Float32frombits(bits)*bscale + bzero
		}
	case -64:
		for i := range dst {
			b := buf[8*i:]
			bits := (uint64(b[0]) << 56) | (uint64(b[1]) << 48) | (uint64(b[2]) << 40) | (uint64(b[3]) << 32) |
				(uint64(b[4]) << 24) | (uint64(b[5]) << 16) | (uint64(b[6]) << 8) | uint64(b[7])
			dst[i] = float32(math.Float64frombits(bits))*bscale + bzero
		}
	}
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err != nil || bytesRead != fitsBlockSize {
			return fmt.Errorf("%d: reading header: %w", id, err)
		}
		h.Length += int32(bytesRead)

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				logf(logWriter, "%d: Warning:Cannot parse '%s', ignoring\n", id, string(line))
			} else {
				subNames := reParser.SubexpNames()
				h.readLine(subNames, subValues, id, lineNo, logWriter)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] != nil && len(subNames[i]) == 1 {
			switch c := subNames[i][0]; c {
			case byte('E'): // end line
				h.End = true
			case byte('H'): // history line
				h.History = append(h.History, string(subValues[i]))
			case byte('C'): // comment line
				h.Comments = append(h.Comments, string(subValues[i]))
			case byte('k'): // key
				key = string(subValues[i])
			case byte('b'): // boolean
				if len(subValues[i]) > 0 {
					v := subValues[i][0]
					h.Bools[key] = v == byte('t') || v == byte('T')
				}
			case byte('i'): // int
				val, err := strconv.ParseInt(string(subValues[i]), 10, 64)
				if err == nil {
					h.Ints[key] = int32(val)
				}
			case byte('f'): // float
				val, err := strconv.ParseFloat(string(subValues[i]), 64)
				if err == nil {
					h.Floats[key] = float32(val)
				}
			case byte('s'): // string
				h.Strings[key] = string(subValues[i])
			case byte('d'): // date
				h.Dates[key] = string(subValues[i])
			case byte('c'): // comment
				// ignore value comments
			default:
				logf(logWriter, "%d:%d:Warning:Unknown token '%s'\n", id, lineNo, string(c))
			}
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"

	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)" // FIXME: other variants possible, see ISO8601
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	// missing: CONTINUE for strings
	// missing: complex int: (nr, nr)
	// missing: complex float: (nr, nr)

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
