package eventclip

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"videoguard/internal/frame"
)

var roiColor = color.RGBA{255, 215, 0, 255}

// renderThumbnail draws the ROI polygon and the triggered-label text onto
// jpegBytes and re-encodes it, generalising the teacher's drawOverlays/
// drawBox/drawLabel bounding-box annotator (internal/stream/mjpeg.go) from
// per-detection rectangles to the single ROI polygon an intrusion clip's
// thumbnail carries. Falls back to the original bytes on any decode error.
func renderThumbnail(jpegBytes []byte, roi frame.ROI, labels []string) []byte {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return jpegBytes
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	drawROI(rgba, roi, roiColor)
	if len(labels) > 0 {
		drawThumbLabel(rgba, 4, 4, triggeredLabel(labels), roiColor)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 85}); err != nil {
		return jpegBytes
	}
	return buf.Bytes()
}

func triggeredLabel(labels []string) string {
	out := labels[0]
	for _, l := range labels[1:] {
		out += "," + l
	}
	return out
}

// drawROI draws the ROI polygon's edges, unnormalising each vertex against
// img's bounds.
func drawROI(img *image.RGBA, roi frame.ROI, c color.RGBA) {
	if len(roi) < 2 {
		return
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	px := func(p frame.Point) (int, int) {
		return bounds.Min.X + int(p.X*float64(w)), bounds.Min.Y + int(p.Y*float64(h))
	}

	for i := range roi {
		x0, y0 := px(roi[i])
		x1, y1 := px(roi[(i+1)%len(roi)])
		drawLine(img, x0, y0, x1, y1, c)
	}
}

// drawLine draws a single-pixel-wide line with Bresenham's algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	bounds := img.Bounds()
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	errTerm := dx + dy

	for {
		if x0 >= bounds.Min.X && x0 < bounds.Max.X && y0 >= bounds.Min.Y && y0 < bounds.Max.Y {
			img.Set(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * errTerm
		if e2 >= dy {
			errTerm += dy
			x0 += sx
		}
		if e2 <= dx {
			errTerm += dx
			y0 += sy
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// drawThumbLabel draws label text with a background plate, matching the
// teacher's drawLabel (font.Drawer + basicfont.Face7x13).
func drawThumbLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
