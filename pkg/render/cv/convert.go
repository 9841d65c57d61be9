// Package cv converts raw frames with OpenCV and shows them in HighGUI
// windows.
package cv

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-capture/pkg/frame"
	"github.com/teslashibe/go-capture/pkg/render"
)

// DefaultQuality is the JPEG quality used when none is set.
const DefaultQuality = 80

// ToMat converts f into a new 8-bit BGR Mat that does not share memory
// with f.Data. The caller must Close it.
func ToMat(f *frame.Frame) (gocv.Mat, error) {
	if f.Format == "MJPG" {
		img, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("decode mjpg: %w", err)
		}
		if img.Empty() {
			img.Close()
			return gocv.NewMat(), fmt.Errorf("decode mjpg: empty image")
		}
		return img, nil
	}

	var (
		mt       gocv.MatType
		channels int
		code     gocv.ColorConversionCode
		convert  = true
	)
	switch f.Format {
	case "BGR3":
		mt, channels, convert = gocv.MatTypeCV8UC3, 3, false
	case "RGB3":
		mt, channels, code = gocv.MatTypeCV8UC3, 3, gocv.ColorRGBToBGR
	case "YUYV":
		mt, channels, code = gocv.MatTypeCV8UC2, 2, gocv.ColorYUVToBGRYUY2
	case "GREY":
		mt, channels, code = gocv.MatTypeCV8UC1, 1, gocv.ColorGrayToBGR
	default:
		return gocv.NewMat(), fmt.Errorf("%w: %s", render.ErrUnsupportedFormat, f.Format)
	}

	need := f.Rows * f.Cols * channels
	if need == 0 || len(f.Data) < need {
		return gocv.NewMat(), fmt.Errorf("frame %d: have %d bytes, need %d for %dx%d %s",
			f.Index, len(f.Data), need, f.Cols, f.Rows, f.Format)
	}

	src, err := gocv.NewMatFromBytes(f.Rows, f.Cols, mt, f.Data[:need])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap frame: %w", err)
	}
	defer src.Close()

	if !convert {
		return src.Clone(), nil
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, code)
	return dst, nil
}

// JPEG encodes frames as JPEG. MJPG frames are copied unchanged.
type JPEG struct {
	Quality int
}

// Encode implements render.Encoder.
func (j JPEG) Encode(f *frame.Frame) ([]byte, error) {
	if f.Format == "MJPG" {
		return render.Passthrough.Encode(f)
	}

	img, err := ToMat(f)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	quality := j.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	return buf.GetBytes(), nil
}

var _ render.Encoder = JPEG{}
