package rimage

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// CloneToRGBA copies any image into a new RGBA image with bounds starting at the origin.
func CloneToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

// Luminance returns the relative luminance of c in [0, 1] using Rec. 601 weights. Fully
// transparent colors have zero luminance.
func Luminance(c color.Color) float64 {
	r, g, b, a := c.RGBA()
	if a == 0 {
		return 0
	}
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 0xffff
}

// NewUniform returns an RGBA image of the given size filled with c.
func NewUniform(width, height int, c color.Color) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Rect, &image.Uniform{c}, image.Point{}, draw.Src)
	return out
}

// ImageToUInt8Buffer returns the pixels of img as interleaved RGB bytes, row major.
func ImageToUInt8Buffer(img image.Image) []uint8 {
	b := img.Bounds()
	out := make([]uint8, 0, b.Dx()*b.Dy()*3)
	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := rgba.Pix[rgba.PixOffset(b.Min.X, y):rgba.PixOffset(b.Max.X, y)]
			for i := 0; i < len(row); i += 4 {
				out = append(out, row[i], row[i+1], row[i+2])
			}
		}
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return out
}

// ImageToFloatBuffer returns the pixels of img as interleaved RGB values in [0, 1], row major.
func ImageToFloatBuffer(img image.Image) []float32 {
	bytes := ImageToUInt8Buffer(img)
	out := make([]float32, len(bytes))
	for i, v := range bytes {
		out[i] = float32(v) / 255
	}
	return out
}
