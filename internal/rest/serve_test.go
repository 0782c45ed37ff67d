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

package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/umbra/internal/fits"
	"github.com/mlnoga/umbra/internal/integrate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPing(t *testing.T) {
	w := httptest.NewRecorder()
	NewRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("ping=%d %q; want 200 pong", w.Code, w.Body.String())
	}
}

func TestPlan(t *testing.T) {
	shape := integrate.Shape{Height: 40, Width: 40, Channels: 3}
	required := integrate.RequiredBytes(10, shape, integrate.Float32Size)
	// the whole stack fits into one MiB
	w := httptest.NewRecorder()
	NewRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/plan?frames=10&height=40&width=40&channels=3&memoryMiB=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("plan=%d %s; want 200", w.Code, w.Body.String())
	}
	var resp planResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RequiredBytes != required || resp.BudgetBytes != 1024*1024 {
		t.Errorf("required=%d budget=%d; want %d, %d", resp.RequiredBytes, resp.BudgetBytes, required, 1024*1024)
	}
	if len(resp.Chunks) != 1 || resp.Chunks[0].End != 40 {
		t.Errorf("chunks=%v; want one chunk of 40 rows", resp.Chunks)
	}

	w = httptest.NewRecorder()
	NewRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/plan?frames=ten", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed plan=%d; want 400", w.Code)
	}
	w = httptest.NewRecorder()
	NewRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/plan?frames=0&height=40&width=40&memoryMiB=1", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("plan without frames=%d; want 400", w.Code)
	}
}

func TestIntegrate(t *testing.T) {
	dir := t.TempDir()
	shape := integrate.Shape{Height: 6, Width: 5, Channels: 1}
	for i, filter := range []string{"Ha", "Ha", "OIII"} {
		img := fits.NewImageFromShape(shape, nil)
		for j := range img.Data {
			img.Data[j] = float32(i + 1)
		}
		img.Header.Floats[fits.KeyOccluderX] = 500
		img.Header.Floats[fits.KeyOccluderY] = 500
		img.Header.Floats[fits.KeyOccluderRadius] = 10
		img.Header.Floats["EXPTIME"] = 2
		img.Header.Strings["FILTER"] = filter
		if err := img.WriteFile(filepath.Join(dir, []string{"a.fits", "b.fits", "c.fits"}[i])); err != nil {
			t.Fatal(err)
		}
	}

	// the output directory does not exist yet
	out := filepath.Join(dir, "out", "groups")
	body := `{"integration": {"inputs": ["` + filepath.ToSlash(filepath.Join(dir, "*.fits")) + `"], "out": "` +
		filepath.ToSlash(out) + `", "groupKeys": ["FILTER"], "memoryMiB": 1, "sigma": 0}}`
	w := httptest.NewRecorder()
	NewRouter().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/integrate", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("integrate=%d %s; want 200", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Integrated 2 of 2 groups, 0 errors") {
		t.Errorf("log does not report success:\n%s", w.Body.String())
	}

	ha, err := fits.NewImageFromFile(filepath.Join(out, "FILTER_Ha.fits"), 0, os.Stdout)
	if err != nil {
		t.Fatal(err)
	}
	if ha.Data[0] != 1.5 {
		t.Errorf("Ha mean=%f; want 1.5", ha.Data[0])
	}
	if _, err := os.Stat(filepath.Join(out, "FILTER_OIII_weights.fits")); err != nil {
		t.Errorf("missing weight map: %v", err)
	}

	w = httptest.NewRecorder()
	NewRouter().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/integrate", strings.NewReader(`{"integration": {"scale": "iqr"}}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid scale=%d; want 400", w.Code)
	}
}
