package liveloop

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
)

// Blue is the highlight colour.
var Blue = color.NRGBA{B: 255, A: 255}

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Overlay draws highlight boxes and labels with gg.
type Overlay struct {
	Color     color.Color
	LineWidth float64
	FontSize  float64
}

// NewOverlay returns the default overlay: blue, 2px lines, 16pt labels.
func NewOverlay() *Overlay {
	return &Overlay{Color: Blue, LineWidth: 2, FontSize: 16}
}

// Label formats the caption drawn above a box.
func Label(catalog detection.Catalog, d detection.Raw) string {
	name := fmt.Sprint(d.ClassID)
	if catalog != nil {
		name = catalog.Name(d.ClassID)
	}
	return fmt.Sprintf("%s %.2f", name, d.Confidence)
}

// LabelOrigin is where a label is drawn for rect: at the left edge, 10 pixels
// above the top, never above the frame.
func LabelOrigin(rect image.Rectangle) image.Point {
	return image.Pt(rect.Min.X, max(rect.Min.Y-10, 0))
}

// Render returns a copy of frame with every detection outlined and labelled.
// The input frame is not modified.
func (o *Overlay) Render(frame image.Image, dets []detection.Raw, catalog detection.Catalog) image.Image {
	dc := gg.NewContextForImage(frame)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: o.FontSize}))

	for _, d := range dets {
		r := d.Box.Rect()
		drawRectangleEmpty(dc, r, o.Color, o.LineWidth)

		p := LabelOrigin(r)
		dc.SetColor(o.Color)
		dc.DrawString(Label(catalog, d), float64(p.X), float64(p.Y))
	}
	return dc.Image()
}

func drawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}
