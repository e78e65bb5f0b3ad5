package detect

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode"
)

var decodeHints = map[gozxing.DecodeHintType]interface{}{
	gozxing.DecodeHintType_TRY_HARDER: true,
}

// ZXingMulti is a MultiDetector built on the gozxing multi QR reader.
type ZXingMulti struct {
	reader multi.MultipleBarcodeReader
	mu     sync.Mutex
}

// NewZXingMulti creates a multi-code detector.
func NewZXingMulti() *ZXingMulti {
	return &ZXingMulti{reader: multiqr.NewQRCodeMultiReader()}
}

// DetectMultiple returns every QR code found in img. Decode failures mean
// nothing was found.
func (z *ZXingMulti) DetectMultiple(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, err
	}

	z.mu.Lock()
	results, err := z.reader.DecodeMultiple(bmp, decodeHints)
	z.mu.Unlock()
	if err != nil {
		return []Detection{}, nil
	}

	out := make([]Detection, 0, len(results))
	for _, r := range results {
		out = append(out, Detection{Text: r.GetText(), Region: boundingBox(r.GetResultPoints())})
	}
	return out, nil
}

// ZXingDecoder is a StreamDecoder that reads one code per frame.
type ZXingDecoder struct {
	reader gozxing.Reader

	mu  sync.Mutex
	run *decodeRun
}

type decodeRun struct {
	cancel context.CancelFunc
}

// NewZXingDecoder creates a single-code stream decoder.
func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{reader: qrcode.NewQRCodeReader()}
}

// ZXingDecoders is a DecoderFactory for ZXingDecoder.
func ZXingDecoders() StreamDecoder {
	return NewZXingDecoder()
}

// DecodeFromStream reads each new frame from src until ctx ends, Reset is
// called, or the source closes. Starting a decode stops the previous one.
func (z *ZXingDecoder) DecodeFromStream(ctx context.Context, src Source, cb func(text string)) error {
	ctx, cancel := context.WithCancel(ctx)
	run := &decodeRun{cancel: cancel}
	z.mu.Lock()
	if z.run != nil {
		z.run.cancel()
	}
	z.run = run
	z.mu.Unlock()
	defer func() {
		cancel()
		z.mu.Lock()
		if z.run == run {
			z.run = nil
		}
		z.mu.Unlock()
	}()

	var after uint64
	for {
		frame, err := src.Next(ctx, after)
		if err != nil {
			return err
		}
		after = frame.Seq
		if text, ok := z.decode(frame.Image); ok && ctx.Err() == nil {
			cb(text)
		}
	}
}

func (z *ZXingDecoder) decode(img image.Image) (string, bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}
	result, err := z.reader.Decode(bmp, decodeHints)
	if err != nil {
		return "", false
	}
	return result.GetText(), true
}

// Reset stops the decode in progress, if any.
func (z *ZXingDecoder) Reset() {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.run != nil {
		z.run.cancel()
		z.run = nil
	}
	z.reader.Reset()
}

func boundingBox(points []gozxing.ResultPoint) image.Rectangle {
	if len(points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

// EncodeQR renders text as a size×size QR code image.
func EncodeQR(text string, size int) (*image.Gray, error) {
	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_ERROR_CORRECTION: "M",
		gozxing.EncodeHintType_CHARACTER_SET:    "UTF-8",
		gozxing.EncodeHintType_MARGIN:           4,
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, hints)
	if err != nil {
		return nil, err
	}

	w, h := matrix.GetWidth(), matrix.GetHeight()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.Gray{Y: 255}
			if matrix.Get(x, y) {
				c = color.Gray{Y: 0}
			}
			img.SetGray(x, y, c)
		}
	}
	return img, nil
}
