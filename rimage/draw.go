package rimage

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawRectangleEmpty draws the outline of r into the context with the given line width.
func DrawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// DrawLabeledBox outlines r and writes label just above it, or just inside it when r touches the
// top edge of the context.
func DrawLabeledBox(dc *gg.Context, r image.Rectangle, label string, c color.Color, width, fontSize float64) {
	DrawRectangleEmpty(dc, r, c, width)
	if label == "" {
		return
	}
	at := image.Point{r.Min.X, r.Min.Y - int(fontSize) - 2}
	if at.Y < 0 {
		at.Y = r.Min.Y + 2
	}
	DrawString(dc, label, at, c, fontSize)
}
