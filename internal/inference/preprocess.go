package inference

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Stride is the coarsest YOLO feature map stride; input sizes are multiples of it.
const Stride = 32

// letterboxFill is the padding gray used by YOLO letterboxing.
var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// InputSize rounds imgsz up to a multiple of Stride, with Stride as the minimum.
func InputSize(imgsz int) int {
	if imgsz < Stride {
		return Stride
	}
	return (imgsz + Stride - 1) / Stride * Stride
}

// AnchorCount is the number of YOLOv8 predictions for a square input of the
// given size: one per cell of the stride 8, 16 and 32 feature maps.
func AnchorCount(size int) int {
	n := 0
	for _, s := range []int{8, 16, 32} {
		n += (size / s) * (size / s)
	}
	return n
}

// letterbox maps model input coordinates back to source image coordinates.
type letterbox struct {
	size   int
	scale  float32
	padX   float32
	padY   float32
	width  int
	height int
}

// toSource converts an input-space coordinate pair back to the source image.
func (l letterbox) toSource(x, y float32) (float32, float32) {
	return (x - l.padX) / l.scale, (y - l.padY) / l.scale
}

// prepareInput resizes img to fit a size x size canvas keeping aspect ratio,
// pads it with gray and returns the canvas as RGB CHW floats in [0,1].
func prepareInput(img image.Image, size int) ([]float32, letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas := imaging.New(size, size, letterboxFill)
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			px := row[x*4 : x*4+3]
			data[i] = float32(px[0]) / 255.0
			data[plane+i] = float32(px[1]) / 255.0
			data[2*plane+i] = float32(px[2]) / 255.0
		}
	}

	return data, letterbox{
		size:   size,
		scale:  float32(scale),
		padX:   float32(padX),
		padY:   float32(padY),
		width:  w,
		height: h,
	}
}
