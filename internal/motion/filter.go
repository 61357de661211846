// Package motion implements the Motion Filter stage (C3): given a batch of
// captured frames, it decides which ones show enough pixel-level change
// relative to their predecessor to warrant downstream detection work.
//
// There is no OpenCV/gocv dependency anywhere in this module's corpus, so
// the absdiff/blur/morphology/threshold pipeline below is a direct,
// hand-rolled translation onto Go's standard image package. See DESIGN.md
// for why no third-party library was a better fit.
package motion

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"videoguard/internal/frame"
)

// Filter applies the grayscale-diff motion algorithm to a batch of frames.
// Sensitivity is clamped to [1,100]; frames[0] is always kept as the anchor.
type Filter struct {
	Sensitivity int
}

// NewFilter returns a Filter with sensitivity clamped into [1,100].
func NewFilter(sensitivity int) *Filter {
	if sensitivity < 1 {
		sensitivity = 1
	}
	if sensitivity > 100 {
		sensitivity = 100
	}
	return &Filter{Sensitivity: sensitivity}
}

// Apply runs the motion filter over batch and returns the kept frames plus
// their original indices. An empty batch returns an empty result.
func (f *Filter) Apply(batch frame.Batch) (frame.MotionResult, error) {
	if len(batch) < 1 {
		return frame.MotionResult{}, nil
	}

	threshold := float64(100-f.Sensitivity) * 0.05

	result := frame.MotionResult{}
	result.Frames = append(result.Frames, batch[0])
	result.Index = append(result.Index, 0)

	last, err := toGray(batch[0].Image)
	if err != nil {
		return frame.MotionResult{}, err
	}

	for i := 1; i < len(batch); i++ {
		current, err := toGray(batch[i].Image)
		if err != nil {
			return frame.MotionResult{}, err
		}

		avgBlack := blackPixelPercent(last, current)
		if avgBlack >= threshold {
			result.Frames = append(result.Frames, batch[i])
			result.Index = append(result.Index, i)
		}
		last = current
	}

	return result, nil
}

func toGray(jpegBytes []byte) (*image.Gray, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray, nil
}

// blackPixelPercent reproduces cv2.absdiff + blur(5,5) + morphologyEx(OPEN)
// + morphologyEx(CLOSE) + threshold(10,255,THRESH_BINARY_INV), then returns
// the percentage of resulting pixels that are black (i.e. above threshold
// in the original absdiff).
func blackPixelPercent(a, b *image.Gray) float64 {
	diff := absDiff(a, b)
	blurred := boxBlur5x5(diff)
	opened := morphOpen3x3(blurred)
	closed := morphClose3x3(opened)

	bounds := closed.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	numBlack := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			// THRESH_BINARY_INV @ 10: src>10 -> 0 (black), src<=10 -> 255 (white)
			v := closed.GrayAt(x, y).Y
			if v > 10 {
				numBlack++
			}
		}
	}
	imSize := w * h
	if imSize == 0 {
		return 0
	}
	return (float64(numBlack) * 100.0) / float64(imSize)
}

func absDiff(a, b *image.Gray) *image.Gray {
	bounds := a.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			av := int(a.GrayAt(x, y).Y)
			bv := int(b.GrayAt(x, y).Y)
			d := av - bv
			if d < 0 {
				d = -d
			}
			out.SetGray(x, y, grayVal(uint8(d)))
		}
	}
	return out
}

func boxBlur5x5(src *image.Gray) *image.Gray {
	bounds := src.Bounds()
	out := image.NewGray(bounds)
	const k = 2 // radius for a 5x5 box
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sum := 0
			count := 0
			for dy := -k; dy <= k; dy++ {
				for dx := -k; dx <= k; dx++ {
					px, py := x+dx, y+dy
					if px < bounds.Min.X || px >= bounds.Max.X || py < bounds.Min.Y || py >= bounds.Max.Y {
						continue
					}
					sum += int(src.GrayAt(px, py).Y)
					count++
				}
			}
			out.SetGray(x, y, grayVal(uint8(sum/count)))
		}
	}
	return out
}

// morphOpen3x3 is erosion followed by dilation with a 3x3 square
// structuring element, matching OpenCV's default kernel for
// morphologyEx(..., None).
func morphOpen3x3(src *image.Gray) *image.Gray {
	return dilate3x3(erode3x3(src))
}

// morphClose3x3 is dilation followed by erosion.
func morphClose3x3(src *image.Gray) *image.Gray {
	return erode3x3(dilate3x3(src))
}

func erode3x3(src *image.Gray) *image.Gray {
	return morph3x3(src, func(a, b uint8) bool { return b < a })
}

func dilate3x3(src *image.Gray) *image.Gray {
	return morph3x3(src, func(a, b uint8) bool { return b > a })
}

func morph3x3(src *image.Gray, replace func(current, candidate uint8) bool) *image.Gray {
	bounds := src.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			best := src.GrayAt(x, y).Y
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					px, py := x+dx, y+dy
					if px < bounds.Min.X || px >= bounds.Max.X || py < bounds.Min.Y || py >= bounds.Max.Y {
						continue
					}
					v := src.GrayAt(px, py).Y
					if replace(best, v) {
						best = v
					}
				}
			}
			out.SetGray(x, y, grayVal(best))
		}
	}
	return out
}

func grayVal(v uint8) color.Gray {
	return color.Gray{Y: v}
}
