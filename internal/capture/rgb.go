package capture

import (
	"fmt"
	"image"
)

// ImageFromRGB converts packed 24-bit RGB rows into an image. stride is the
// byte length of one row including padding; 0 means width*3.
func ImageFromRGB(data []byte, width, height, stride int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if stride == 0 {
		stride = width * 3
	}
	if stride < width*3 {
		return nil, fmt.Errorf("stride %d too small for width %d", stride, width)
	}
	if len(data) < stride*(height-1)+width*3 {
		return nil, fmt.Errorf("frame has %d bytes, need %d", len(data), stride*(height-1)+width*3)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := data[y*stride : y*stride+width*3]
		dst := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img, nil
}
