package image

type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// findRegions groups the marked pixels of mask into 8-connected components and
// returns their bounding boxes, merging boxes that overlap or lie within
// mergeDistance pixels of each other.
func findRegions(mask []bool, width int, height int, mergeDistance int) []Rectangle {
	visited := make([]bool, len(mask))

	var rectangles []Rectangle
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if mask[i] && !visited[i] {
				rectangles = append(rectangles, findBoundingBox(mask, visited, x, y, width, height))
			}
		}
	}

	return mergeRectangles(rectangles, mergeDistance)
}

func findBoundingBox(mask []bool, visited []bool, startX int, startY int, width int, height int) Rectangle {
	minX := startX
	minY := startY
	maxX := startX
	maxY := startY

	type point struct {
		x int
		y int
	}

	queue := []point{{startX, startY}}
	visited[startY*width+startX] = true

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		minX = min(minX, p.x)
		maxX = max(maxX, p.x)
		minY = min(minY, p.y)
		maxY = max(maxY, p.y)

		// Check 8 neighbors
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}

				nx := p.x + dx
				ny := p.y + dy
				if nx < 0 || nx >= width || ny < 0 || ny >= height {
					continue
				}

				i := ny*width + nx
				if mask[i] && !visited[i] {
					visited[i] = true
					queue = append(queue, point{nx, ny})
				}
			}
		}
	}

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
	}
}

// mergeRectangles repeats merge passes until no two rectangles are close enough to combine.
func mergeRectangles(rects []Rectangle, distance int) []Rectangle {
	for {
		if len(rects) <= 1 {
			return rects
		}

		merged := make([]Rectangle, 0, len(rects))
		used := make([]bool, len(rects))
		changed := false

		for i := 0; i < len(rects); i++ {
			if used[i] {
				continue
			}

			current := rects[i]
			mergedAny := true

			for mergedAny {
				mergedAny = false
				for j := i + 1; j < len(rects); j++ {
					if used[j] {
						continue
					}

					if rectanglesOverlap(current, rects[j]) || rectanglesClose(current, rects[j], distance) {
						current = combineRectangles(current, rects[j])
						used[j] = true
						mergedAny = true
						changed = true
					}
				}
			}

			merged = append(merged, current)
		}

		if !changed {
			return merged
		}
		rects = merged
	}
}

func rectanglesOverlap(r1 Rectangle, r2 Rectangle) bool {
	return !(r1.X+r1.Width <= r2.X || r2.X+r2.Width <= r1.X ||
		r1.Y+r1.Height <= r2.Y || r2.Y+r2.Height <= r1.Y)
}

func rectanglesClose(r1 Rectangle, r2 Rectangle, threshold int) bool {
	r1Expanded := Rectangle{
		X:      r1.X - threshold,
		Y:      r1.Y - threshold,
		Width:  r1.Width + 2*threshold,
		Height: r1.Height + 2*threshold,
	}

	return rectanglesOverlap(r1Expanded, r2)
}

func combineRectangles(r1 Rectangle, r2 Rectangle) Rectangle {
	minX := min(r1.X, r2.X)
	minY := min(r1.Y, r2.Y)
	maxX := max(r1.X+r1.Width, r2.X+r2.Width)
	maxY := max(r1.Y+r1.Height, r2.Y+r2.Height)

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}
}
