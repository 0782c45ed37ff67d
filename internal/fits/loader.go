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
	"fmt"
	"io"

	"github.com/mlnoga/umbra/internal/integrate"
)

// Loads chunks of rows from a list of FITS files. Headers are read once on creation,
// data is read row range by row range
type FileLoader struct {
	headers  []*Image
	metadata []integrate.FrameMetadata
	shape    integrate.Shape
}

// Reads the headers of all files and checks that they share one shape and carry the required
// metadata
func NewFileLoader(files []string, groupKeys []string, logWriter io.Writer) (*FileLoader, error) {
	if len(files) == 0 {
		return nil, integrate.ErrNoFrames
	}
	l := &FileLoader{
		headers:  make([]*Image, len(files)),
		metadata: make([]integrate.FrameMetadata, len(files)),
	}
	for id, fileName := range files {
		img, err := NewImageHeaderFromFile(fileName, id, logWriter)
		if err != nil {
			return nil, err
		}
		shape, err := img.Shape()
		if err != nil {
			return nil, err
		}
		if id == 0 {
			l.shape = shape
		} else if shape != l.shape {
			return nil, fmt.Errorf("%w: %s is %v, %s is %v", integrate.ErrShapeMismatch, fileName, shape, files[0], l.shape)
		}
		if l.metadata[id], err = img.Metadata(groupKeys); err != nil {
			return nil, err
		}
		l.headers[id] = img
	}
	return l, nil
}

func (l *FileLoader) Shape() integrate.Shape { return l.shape }
func (l *FileLoader) NumFrames() int         { return len(l.headers) }

// Metadata of all frames, in file order
func (l *FileLoader) Metadata() []integrate.FrameMetadata { return l.metadata }

func (l *FileLoader) LoadChunk(rows integrate.RowRange, st *integrate.Stack) ([]integrate.FrameMetadata, error) {
	if st.Rows != rows {
		return nil, fmt.Errorf("stack holds %v, requested %v", st.Rows, rows)
	}
	for i, img := range l.headers {
		if err := img.ReadRowsFromFile(rows.Start, rows.End, st.Data[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", img.FileName, err)
		}
		st.UpdateValidity(i)
	}
	return l.metadata, nil
}
