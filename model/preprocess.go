package model

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

const captionImageSize = 384

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// decodeImage decodes raster bytes and normalizes them to a plain RGBA
// image so downstream sampling sees three usable color channels.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}

// pixelValues lays the image out as a CHW float tensor normalized with
// CLIP statistics, the input format the caption encoder expects.
func pixelValues(img image.Image) []float32 {
	img = imaging.Resize(img, captionImageSize, captionImageSize, imaging.Lanczos)

	out := make([]float32, 3*captionImageSize*captionImageSize)
	rBase := 0
	gBase := captionImageSize * captionImageSize
	bBase := 2 * captionImageSize * captionImageSize

	for y := 0; y < captionImageSize; y++ {
		for x := 0; x < captionImageSize; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			fr := float32(r) / 65535.0
			fg := float32(g) / 65535.0
			fb := float32(b) / 65535.0

			out[rBase] = (fr - clipMean[0]) / clipStd[0]
			out[gBase] = (fg - clipMean[1]) / clipStd[1]
			out[bBase] = (fb - clipMean[2]) / clipStd[2]

			rBase++
			gBase++
			bBase++
		}
	}
	return out
}
