package imageprocessor

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"photodelta/logging"
	"photodelta/scanner"

	exiftool "github.com/barasher/go-exiftool"
	"gocv.io/x/gocv"
	xdraw "golang.org/x/image/draw"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoder loads images as grayscale Mats bounded so the longer side does
// not exceed MaxSide. Decodes that exceed Timeout are abandoned and
// reported as errors.
type Decoder struct {
	MaxSide int
	Timeout time.Duration
	TempDir string
}

// NewDecoder creates a decoder with the given decode bound and timeout.
func NewDecoder(maxSide int, timeout time.Duration) *Decoder {
	return &Decoder{
		MaxSide: maxSide,
		Timeout: timeout,
		TempDir: os.TempDir(),
	}
}

type decodeResult struct {
	img gocv.Mat
	err error
}

// DecodeGray loads the image at path as a bounded grayscale Mat. The caller
// owns the returned Mat on success.
func (d *Decoder) DecodeGray(path string) (gocv.Mat, error) {
	if d.Timeout <= 0 {
		return d.decode(path)
	}

	ch := make(chan decodeResult, 1)
	go func() {
		img, err := d.decode(path)
		ch <- decodeResult{img: img, err: err}
	}()

	timer := time.NewTimer(d.Timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.img, res.err
	case <-timer.C:
		// The decode cannot be cancelled mid-flight; release its Mat
		// whenever it eventually finishes.
		go func() {
			if res := <-ch; res.err == nil {
				res.img.Close()
			}
		}()
		return gocv.NewMat(), fmt.Errorf("decode timed out after %s: %s", d.Timeout, path)
	}
}

func (d *Decoder) decode(path string) (gocv.Mat, error) {
	if scanner.IsRawFormat(path) {
		img, err := d.loadRawPreview(path)
		if err != nil {
			return img, err
		}
		return d.bound(img), nil
	}

	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	if img.Empty() {
		img.Close()
		// OpenCV builds do not always carry every codec; WebP and some
		// TIFF variants decode through the pure-Go path instead.
		fallback, err := d.fallbackDecode(path)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("failed to load image %s: %v", path, err)
		}
		return fallback, nil
	}
	return d.bound(img), nil
}

// bound takes ownership of img and returns it resized so its longer
// dimension does not exceed MaxSide.
func (d *Decoder) bound(img gocv.Mat) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	longer := w
	if h > longer {
		longer = h
	}
	if longer <= d.MaxSide || longer == 0 {
		return img
	}

	scale := float64(d.MaxSide) / float64(longer)
	dst := gocv.NewMat()
	gocv.Resize(img, &dst, image.Point{
		X: int(float64(w)*scale + 0.5),
		Y: int(float64(h)*scale + 0.5),
	}, 0, 0, gocv.InterpolationArea)
	img.Close()
	return dst
}

// fallbackDecode decodes via the standard image stack and scales into a
// bounded grayscale image before handing the pixels to gocv.
func (d *Decoder) fallbackDecode(path string) (gocv.Mat, error) {
	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode: %v", err)
	}
	logging.Debugf("pure-Go %s decode for %s", format, path)

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if longer > d.MaxSide && longer > 0 {
		scale := float64(d.MaxSide) / float64(longer)
		w = int(float64(w)*scale + 0.5)
		h = int(float64(h)*scale + 0.5)
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(gray, gray.Bounds(), src, bounds, xdraw.Src, nil)

	return gocv.ImageGrayToMatGray(gray)
}

// Preview tags in order of preference; JpgFromRaw is the full-size camera
// rendering when present.
var previewTags = []string{"JpgFromRaw", "PreviewImage", "OtherImage", "ThumbnailImage"}

// loadRawPreview decodes a RAW file by extracting its embedded JPEG
// preview with exiftool.
func (d *Decoder) loadRawPreview(path string) (gocv.Mat, error) {
	logging.Debugf("extracting embedded preview from %s file %s", scanner.GetFileFormat(path), path)

	et, err := exiftool.NewExiftool()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("exiftool unavailable for RAW %s: %v", path, err)
	}
	defer et.Close()

	metas := et.ExtractMetadata(path)
	if len(metas) == 0 {
		return gocv.NewMat(), fmt.Errorf("no metadata extracted from %s", path)
	}
	if metas[0].Err != nil {
		return gocv.NewMat(), fmt.Errorf("metadata extraction failed for %s: %v", path, metas[0].Err)
	}

	tmp := filepath.Join(d.TempDir, fmt.Sprintf("photodelta_raw_%d.jpg", time.Now().UnixNano()))
	defer os.Remove(tmp)

	for _, tag := range previewTags {
		if _, ok := metas[0].Fields[tag]; !ok {
			continue
		}
		if err := extractPreview(path, tmp, tag); err != nil {
			logging.Debugf("preview tag %s extraction failed for %s: %v", tag, path, err)
			continue
		}
		img := gocv.IMRead(tmp, gocv.IMReadGrayScale)
		if !img.Empty() {
			logging.Debugf("extracted %s preview from %s", tag, path)
			return img, nil
		}
		img.Close()
	}

	return gocv.NewMat(), fmt.Errorf("no usable embedded preview in %s", path)
}

// extractPreview pulls one binary preview tag out of a RAW file. exiftool
// cannot be told a single output filename, so -b streams the preview to
// stdout and we capture it ourselves.
func extractPreview(path, outputPath, tag string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var stderr bytes.Buffer
	cmd := exec.Command("exiftool", "-b", "-"+tag, path)
	cmd.Stdout = out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("exiftool -%s: %v, stderr: %s", tag, err, stderr.String())
	}

	info, err := out.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("empty preview for tag %s", tag)
	}
	return nil
}
