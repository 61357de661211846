package intrusion

import "videoguard/internal/frame"

// overlapArea returns the intersection area between roi and the axis-aligned
// box (x1,y1)-(x2,y2), both in the same (unnormalised) coordinate space.
// Computed via Sutherland-Hodgman polygon clipping followed by the shoelace
// formula — the corpus has no 2-D polygon clipping library (see DESIGN.md),
// this mirrors the semantics of shapely's Polygon.intersection(...).area.
func overlapArea(roi frame.ROI, x1, y1, x2, y2 float64) float64 {
	box := []frame.Point{
		{X: x1, Y: y1},
		{X: x2, Y: y1},
		{X: x2, Y: y2},
		{X: x1, Y: y2},
	}
	clipped := sutherlandHodgman([]frame.Point(roi), box)
	return shoelaceArea(clipped)
}

// sutherlandHodgman clips subject against the convex polygon clip. ROI
// polygons in this system are simple (non-self-intersecting); clip is
// assumed convex, which holds for the axis-aligned bbox callers always pass.
func sutherlandHodgman(subject, clip []frame.Point) []frame.Point {
	output := subject
	if len(clip) < 3 || len(subject) < 3 {
		return nil
	}

	for i := range clip {
		if len(output) == 0 {
			return nil
		}
		a := clip[i]
		b := clip[(i+1)%len(clip)]

		input := output
		output = nil

		for j := range input {
			cur := input[j]
			prev := input[(j-1+len(input))%len(input)]

			curInside := isInside(a, b, cur)
			prevInside := isInside(a, b, prev)

			if curInside {
				if !prevInside {
					output = append(output, intersect(a, b, prev, cur))
				}
				output = append(output, cur)
			} else if prevInside {
				output = append(output, intersect(a, b, prev, cur))
			}
		}
	}
	return output
}

func isInside(a, b, p frame.Point) bool {
	return (b.X-a.X)*(p.Y-a.Y)-(b.Y-a.Y)*(p.X-a.X) >= 0
}

func intersect(a, b, p, q frame.Point) frame.Point {
	a1 := b.Y - a.Y
	b1 := a.X - b.X
	c1 := a1*a.X + b1*a.Y

	a2 := q.Y - p.Y
	b2 := p.X - q.X
	c2 := a2*p.X + b2*p.Y

	det := a1*b2 - a2*b1
	if det == 0 {
		return q
	}
	return frame.Point{
		X: (b2*c1 - b1*c2) / det,
		Y: (a1*c2 - a2*c1) / det,
	}
}

func shoelaceArea(poly []frame.Point) float64 {
	if len(poly) < 3 {
		return 0
	}
	sum := 0.0
	for i := range poly {
		j := (i + 1) % len(poly)
		sum += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	if sum < 0 {
		sum = -sum
	}
	return sum / 2
}
