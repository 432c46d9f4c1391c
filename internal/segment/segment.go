// Package segment finds coloured blobs in YUYV frames, CMVision style: each
// pixel is classified through a YUV lookup table, rows are run-length
// encoded, runs of the same class are joined into 4-connected regions, and
// regions are reported per class, largest first.
package segment

import (
	"math"
	"sort"

	"golang.org/x/xerrors"

	"github.com/lanikai/cmvision/internal/capture"
	"github.com/lanikai/cmvision/internal/logging"
)

var log = logging.DefaultLogger.WithTag("segment")

const (
	// Number of colour classes. Class values are 0 through Classes-1.
	Classes = 10

	// Size of a full lookup table, indexed by y | u<<8 | v<<16.
	LUTSize = 1 << 24
)

// Blob is a connected region of one colour class.
type Blob struct {
	// Looked up in the location tables at the centroid; 0 when unset.
	Distance uint16
	Angle    uint16

	Area int

	// Centroid, rounded to the nearest pixel.
	CenX int
	CenY int

	// Inclusive bounding box.
	X1, X2 int
	Y1, Y2 int
}

type run struct {
	x, y, width int
	class       uint8
	parent      int
}

type region struct {
	class      uint8
	area       int
	x1, x2     int
	y1, y2     int
	sumX, sumY int
}

// Segmenter holds the classification tables and the results of the last
// Analyse. It is not safe for concurrent use.
type Segmenter struct {
	width, height int

	lut     []byte
	active  []byte
	locR    []uint16
	locPhi  []uint16
	minArea [Classes]int
	enabled [Classes]bool

	segmented []byte
	runs      []run
	blobs     [Classes][]Blob
}

// New creates a segmenter for frames of the given size. Every pixel starts
// active, every lookup entry maps to class 0 and every class is disabled.
func New(width, height int) (*Segmenter, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, xerrors.Errorf("segmenter size %dx%d: %w", width, height, capture.ErrInvalidFrame)
	}
	s := &Segmenter{
		width:     width,
		height:    height,
		lut:       make([]byte, LUTSize),
		active:    make([]byte, width*height),
		segmented: make([]byte, width*height),
	}
	for i := range s.active {
		s.active[i] = 1
	}
	return s, nil
}

// Size returns the frame size the segmenter expects.
func (s *Segmenter) Size() (width, height int) {
	return s.width, s.height
}

// SetColors loads the lookup table. Entries beyond len(lut) keep their
// previous class.
func (s *Segmenter) SetColors(lut []byte) error {
	if len(lut) > LUTSize {
		lut = lut[:LUTSize]
	}
	for i, c := range lut {
		if c >= Classes {
			return xerrors.Errorf("lookup entry %#06x has class %d: %w", i, c, capture.ErrRange)
		}
	}
	copy(s.lut, lut)
	return nil
}

// SetColor maps a single YUV value to a class.
func (s *Segmenter) SetColor(y, u, v uint8, class int) error {
	if class < 0 || class >= Classes {
		return xerrors.Errorf("class %d: %w", class, capture.ErrRange)
	}
	s.lut[index(y, u, v)] = uint8(class)
	return nil
}

func index(y, u, v uint8) int {
	return int(y) | int(u)<<8 | int(v)<<16
}

// SetMinArea enables a class and sets the smallest region reported for it.
func (s *Segmenter) SetMinArea(class, area int) error {
	if class < 0 || class >= Classes {
		return xerrors.Errorf("class %d: %w", class, capture.ErrRange)
	}
	if area < 0 {
		area = 0
	}
	s.minArea[class] = area
	s.enabled[class] = true
	return nil
}

// Disable stops reporting regions of class.
func (s *Segmenter) Disable(class int) {
	if class >= 0 && class < Classes {
		s.enabled[class] = false
	}
}

// SetActivePixels sets which pixels take part in segmentation: nonzero
// entries are active. Inactive pixels are classified as 0.
func (s *Segmenter) SetActivePixels(mask []byte) error {
	if len(mask) != s.width*s.height {
		return xerrors.Errorf("active mask has %d entries for %dx%d: %w", len(mask), s.width, s.height, capture.ErrInvalidFrame)
	}
	copy(s.active, mask)
	return nil
}

// SetLocations sets per-pixel distance and angle tables, reported for each
// blob at its centroid.
func (s *Segmenter) SetLocations(r, phi []uint16) error {
	n := s.width * s.height
	if len(r) != n || len(phi) != n {
		return xerrors.Errorf("location tables have %d and %d entries for %dx%d: %w",
			len(r), len(phi), s.width, s.height, capture.ErrInvalidFrame)
	}
	s.locR = append(s.locR[:0], r...)
	s.locPhi = append(s.locPhi[:0], phi...)
	return nil
}

// Analyse segments a YUYV frame and replaces the previous results.
func (s *Segmenter) Analyse(raw *capture.RawFrame) error {
	if raw == nil {
		return xerrors.Errorf("analyse: nil frame: %w", capture.ErrInvalidFrame)
	}
	if raw.Format != capture.PixelFormatYUYV {
		return xerrors.Errorf("analyse %v: %w", raw.Format, capture.ErrUnsupportedFormat)
	}
	if raw.Width != s.width || raw.Height != s.height {
		return xerrors.Errorf("frame %dx%d, segmenter %dx%d: %w",
			raw.Width, raw.Height, s.width, s.height, capture.ErrInvalidFrame)
	}
	stride := raw.Stride
	if stride == 0 {
		stride = 2 * s.width
	}
	if stride < 2*s.width || len(raw.Data) < stride*(s.height-1)+2*s.width {
		return xerrors.Errorf("frame data too short: %w", capture.ErrInvalidFrame)
	}

	s.classify(raw.Data, stride)
	s.encodeRuns()
	s.connect()
	s.extract()
	return nil
}

func (s *Segmenter) classify(data []byte, stride int) {
	w := s.width
	for y := 0; y < s.height; y++ {
		row := data[y*stride:]
		out := s.segmented[y*w : (y+1)*w]
		active := s.active[y*w : (y+1)*w]
		for x := 0; x < w; x += 2 {
			y0, u, y1, v := row[2*x], row[2*x+1], row[2*x+2], row[2*x+3]
			out[x], out[x+1] = 0, 0
			if active[x] != 0 {
				out[x] = s.lut[index(y0, u, v)]
			}
			if active[x+1] != 0 {
				out[x+1] = s.lut[index(y1, u, v)]
			}
		}
	}
}

// encodeRuns run-length encodes every row, keeping only runs of enabled
// classes. Each run starts as its own parent.
func (s *Segmenter) encodeRuns() {
	s.runs = s.runs[:0]
	w := s.width
	for y := 0; y < s.height; y++ {
		row := s.segmented[y*w : (y+1)*w]
		for x := 0; x < w; {
			c := row[x]
			start := x
			for x < w && row[x] == c {
				x++
			}
			if s.enabled[c] {
				s.runs = append(s.runs, run{x: start, y: y, width: x - start, class: c, parent: len(s.runs)})
			}
		}
	}
}

func (s *Segmenter) find(i int) int {
	root := i
	for s.runs[root].parent != root {
		root = s.runs[root].parent
	}
	for s.runs[i].parent != root {
		next := s.runs[i].parent
		s.runs[i].parent = root
		i = next
	}
	return root
}

// union keeps the lower index as the root, so a region's root is always its
// first run in scan order.
func (s *Segmenter) union(a, b int) {
	ra, rb := s.find(a), s.find(b)
	switch {
	case ra < rb:
		s.runs[rb].parent = ra
	case rb < ra:
		s.runs[ra].parent = rb
	}
}

// connect joins vertically overlapping runs of the same class in adjacent
// rows.
func (s *Segmenter) connect() {
	runs := s.runs
	prev, cur := 0, 0
	for cur < len(runs) && runs[cur].y == runs[0].y {
		cur++
	}
	prevStart := 0

	for cur < len(runs) {
		y := runs[cur].y
		curStart := cur
		for cur < len(runs) && runs[cur].y == y {
			cur++
		}
		curEnd := cur

		// The previous row only connects if it is adjacent.
		if runs[prevStart].y == y-1 {
			prev = prevStart
			for i := curStart; i < curEnd; i++ {
				r := runs[i]
				for prev < curStart && runs[prev].x+runs[prev].width <= r.x {
					prev++
				}
				for j := prev; j < curStart && runs[j].x < r.x+r.width; j++ {
					if runs[j].class == r.class {
						s.union(i, j)
					}
				}
			}
		}
		prevStart = curStart
	}
}

// extract gathers region statistics and builds the per-class blob lists.
func (s *Segmenter) extract() {
	var regions []region
	ids := make(map[int]int)
	for i := range s.runs {
		r := s.runs[i]
		root := s.find(i)
		id, ok := ids[root]
		if !ok {
			id = len(regions)
			ids[root] = id
			regions = append(regions, region{
				class: r.class,
				x1:    r.x,
				x2:    r.x + r.width - 1,
				y1:    r.y,
				y2:    r.y,
			})
		}
		reg := &regions[id]
		reg.area += r.width
		if r.x < reg.x1 {
			reg.x1 = r.x
		}
		if end := r.x + r.width - 1; end > reg.x2 {
			reg.x2 = end
		}
		if r.y > reg.y2 {
			reg.y2 = r.y
		}
		// Sum of x over [r.x, r.x+width).
		reg.sumX += r.width * (2*r.x + r.width - 1) / 2
		reg.sumY += r.y * r.width
	}

	for c := range s.blobs {
		s.blobs[c] = s.blobs[c][:0]
	}
	for _, reg := range regions {
		if reg.area < s.minArea[reg.class] {
			continue
		}
		b := Blob{
			Area: reg.area,
			CenX: int(math.Round(float64(reg.sumX) / float64(reg.area))),
			CenY: int(math.Round(float64(reg.sumY) / float64(reg.area))),
			X1:   reg.x1,
			X2:   reg.x2,
			Y1:   reg.y1,
			Y2:   reg.y2,
		}
		if s.locR != nil {
			xy := b.CenY*s.width + b.CenX
			b.Distance = s.locR[xy]
			b.Angle = s.locPhi[xy]
		}
		s.blobs[reg.class] = append(s.blobs[reg.class], b)
	}
	for c := range s.blobs {
		list := s.blobs[c]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Area > list[j].Area })
	}
	log.Trace(2, "%d runs, %d regions", len(s.runs), len(regions))
}

// Blobs returns the regions of class found by the last Analyse, largest
// first.
func (s *Segmenter) Blobs(class int) ([]Blob, error) {
	if class < 0 || class >= Classes {
		return nil, xerrors.Errorf("class %d: %w", class, capture.ErrRange)
	}
	out := make([]Blob, len(s.blobs[class]))
	copy(out, s.blobs[class])
	return out, nil
}

// Segmented returns the class map of the last Analyse, one byte per pixel,
// row-major. The slice is overwritten by the next Analyse.
func (s *Segmenter) Segmented() []byte {
	return s.segmented
}
