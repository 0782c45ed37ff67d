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
	"path/filepath"
	"sort"
	"strings"

	"github.com/mlnoga/umbra/internal/integrate"
)

// A group of files sharing the same values for the group keywords
type FileGroup struct {
	Name   string   // Group name derived from keys and values
	Values []string // Values of the group keywords
	Files  []string // Files in the group, sorted by name
}

// Expands the given file name patterns and returns the sorted, de-duplicated matches
func ExpandPatterns(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Formats a group name from keys and values, e.g. "FILTER_Ha - EXPTIME_0.5".
// Without keys the name is "all"
func GroupName(keys, values []string) string {
	if len(keys) == 0 {
		return "all"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "_" + values[i]
	}
	return strings.Join(parts, " - ")
}

// Reads the headers of the given files and groups them by the formatted values of the group
// keywords. Groups are sorted by name. A file lacking a keyword is an error
func GroupFiles(files []string, keys []string, logWriter io.Writer) ([]FileGroup, error) {
	byName := map[string]*FileGroup{}
	for id, fileName := range files {
		img, err := NewImageHeaderFromFile(fileName, id, logWriter)
		if err != nil {
			return nil, err
		}
		values := make([]string, len(keys))
		for i, k := range keys {
			v, ok := img.Header.Format(k)
			if !ok {
				return nil, fmt.Errorf("%w: %s has no group keyword %s", integrate.ErrMissingMetadata, fileName, k)
			}
			values[i] = v
		}
		name := GroupName(keys, values)
		g := byName[name]
		if g == nil {
			g = &FileGroup{Name: name, Values: values}
			byName[name] = g
		}
		g.Files = append(g.Files, fileName)
	}

	groups := make([]FileGroup, 0, len(byName))
	for _, g := range byName {
		sort.Strings(g.Files)
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		logf(logWriter, "Group %q: %d frames\n", g.Name, len(g.Files))
	}
	return groups, nil
}
