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

	"github.com/mlnoga/umbra/internal/integrate"
)

// Header keys of per-frame metadata
const (
	KeyOccluderX      = "MOON-X"
	KeyOccluderY      = "MOON-Y"
	KeyOccluderRadius = "MOON-R"
	KeyPedestal       = "PEDESTAL"
	KeyNumFrames      = "NFRAMES"
	KeyExposureSum    = "EXPSUM"
)

// Extracts frame metadata from the header. Occluder position and radius, exposure time and all
// group keywords are required
func (f *Image) Metadata(groupKeys []string) (integrate.FrameMetadata, error) {
	m := integrate.FrameMetadata{}
	h := &f.Header
	for _, kv := range []struct {
		key string
		dst *float32
	}{
		{KeyOccluderX, &m.OccluderX},
		{KeyOccluderY, &m.OccluderY},
		{KeyOccluderRadius, &m.OccluderRadius},
	} {
		v, ok := h.Float(kv.key)
		if !ok {
			return m, fmt.Errorf("%w: %s has no %s", integrate.ErrMissingMetadata, f.FileName, kv.key)
		}
		*kv.dst = v
	}

	if exp, ok := h.Float("EXPTIME"); ok {
		m.Exposure = exp
	} else if exp, ok := h.Float("EXPOSURE"); ok {
		m.Exposure = exp
	} else {
		return m, fmt.Errorf("%w: %s has neither EXPTIME nor EXPOSURE", integrate.ErrMissingMetadata, f.FileName)
	}

	m.GroupValues = make([]string, len(groupKeys))
	for i, key := range groupKeys {
		v, ok := h.Format(key)
		if !ok {
			return m, fmt.Errorf("%w: %s has no group keyword %s", integrate.ErrMissingMetadata, f.FileName, key)
		}
		m.GroupValues[i] = v
	}

	m.Pedestal, m.HasPedestal = h.Float(KeyPedestal)
	return m, nil
}
