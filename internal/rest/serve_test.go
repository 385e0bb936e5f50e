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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/corey888773/median-filter/internal/median"
	"github.com/corey888773/median-filter/internal/raster"
	"github.com/gin-gonic/gin"
	"github.com/valyala/fastrand"
)

func init() { gin.SetMode(gin.TestMode) }

func encodedTestImage(t *testing.T) (*raster.Image, []byte) {
	t.Helper()
	img := raster.NewImage(12, 9)
	for i := range img.Pix {
		img.Pix[i] = uint8(fastrand.Uint32n(256))
	}
	var buf bytes.Buffer
	if err := img.Write(&buf, raster.FormatPNG); err != nil {
		t.Fatal(err)
	}
	return img, buf.Bytes()
}

func serve(r http.Handler, method, url string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	r.ServeHTTP(w, req)
	return w
}

func TestPingAndVersion(t *testing.T) {
	r := NewRouter(Settings{Version: "1.2.3"})
	w := serve(r, http.MethodGet, "/api/v1/ping", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("ping: %d %s", w.Code, w.Body.String())
	}
	w = serve(r, http.MethodGet, "/api/v1/version", nil)
	var v map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v["version"] != "1.2.3" {
		t.Errorf("version %v", v)
	}
	w = serve(r, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<html") {
		t.Errorf("index: %d", w.Code)
	}
}

func TestFilterImage(t *testing.T) {
	img, body := encodedTestImage(t)
	r := NewRouter(Settings{MaxThreads: 2})
	for _, method := range []string{"seq", "par", "dist"} {
		w := serve(r, http.MethodPost, "/api/v1/filter/image?kernel=5&workers=3&method="+method, body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", method, w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("%s: content type %s", method, ct)
		}
		got, err := raster.Read(w.Body)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(median.Filter(img, 5)) {
			t.Errorf("%s: response differs from median filter", method)
		}
	}
}

func TestFilterImageBadRequests(t *testing.T) {
	_, body := encodedTestImage(t)
	r := NewRouter(Settings{})
	for _, url := range []string{
		"/api/v1/filter/image?kernel=4",
		"/api/v1/filter/image?kernel=x",
		"/api/v1/filter/image?noise=1.5",
		"/api/v1/filter/image?method=gpu",
		"/api/v1/filter/image?method=mpi",
		"/api/v1/filter/image?method=dist&workers=0",
		"/api/v1/filter/image?method=dist&workers=-2",
		"/api/v1/filter/image?method=dist&workers=" + strconv.Itoa(Settings{}.maxWorkers()+1),
		"/api/v1/filter/image?method=dist&workers=100000000",
	} {
		if w := serve(r, http.MethodPost, url, body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d; want 400", url, w.Code)
		}
	}
	if w := serve(r, http.MethodPost, "/api/v1/filter/image", []byte("not an image")); w.Code != http.StatusBadRequest {
		t.Errorf("garbage body: status %d; want 400", w.Code)
	}
}

func TestFilterPipelineRejectsBadKernel(t *testing.T) {
	r := NewRouter(Settings{})
	body := []byte(`{"filePatterns":["*.png"],"median":{"type":"median","active":true,"kernelSize":7,"method":"seq"}}`)
	if w := serve(r, http.MethodPost, "/api/v1/filter", body); w.Code != http.StatusBadRequest {
		t.Errorf("status %d; want 400", w.Code)
	}
}

func TestFilterPipelineStaysInTree(t *testing.T) {
	r := NewRouter(Settings{})
	body := []byte(`{"filePatterns":["/etc/*"],"median":{"type":"median","active":true,"kernelSize":3,"method":"seq"}}`)
	w := serve(r, http.MethodPost, "/api/v1/filter", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error:") {
		t.Errorf("expected an error in the log:\n%s", w.Body.String())
	}
}

func TestFilterImageWorkerLimitFollowsSettings(t *testing.T) {
	_, body := encodedTestImage(t)
	if limit := (Settings{Workers: 1000}).maxWorkers(); limit < 1000 {
		t.Fatalf("limit %d below configured workers", limit)
	}
	r := NewRouter(Settings{})
	url := "/api/v1/filter/image?method=dist&workers=" + strconv.Itoa(Settings{}.maxWorkers())
	if w := serve(r, http.MethodPost, url, body); w.Code != http.StatusOK {
		t.Errorf("workers at the limit: status %d: %s", w.Code, w.Body.String())
	}
}
