package cmvision

import (
	"github.com/lanikai/cmvision/internal/segment"
)

func (cam *Camera) segmenter() (*segment.Segmenter, error) {
	cam.segOnce.Do(func() {
		height, width := cam.Shape()
		cam.seg, cam.segErr = segment.New(width, height)
	})
	return cam.seg, cam.segErr
}

// SetColors installs a colour lookup table indexed by y | u<<8 | v<<16 whose
// entries are classes in [0, Classes).
func (cam *Camera) SetColors(lut []byte) error {
	seg, err := cam.segmenter()
	if err != nil {
		return err
	}
	return seg.SetColors(lut)
}

// SetColor maps a single YUV triple to class.
func (cam *Camera) SetColor(y, u, v uint8, class int) error {
	seg, err := cam.segmenter()
	if err != nil {
		return err
	}
	return seg.SetColor(y, u, v, class)
}

// SetMinArea enables blob detection for class, keeping regions of at least
// area pixels.
func (cam *Camera) SetMinArea(class, area int) error {
	seg, err := cam.segmenter()
	if err != nil {
		return err
	}
	return seg.SetMinArea(class, area)
}

// SetActivePixels restricts classification to pixels whose mask byte is
// nonzero. The mask has one byte per pixel.
func (cam *Camera) SetActivePixels(mask []byte) error {
	seg, err := cam.segmenter()
	if err != nil {
		return err
	}
	return seg.SetActivePixels(mask)
}

// SetLocations sets per-pixel distance and angle tables reported with each
// blob.
func (cam *Camera) SetLocations(r, phi []uint16) error {
	seg, err := cam.segmenter()
	if err != nil {
		return err
	}
	return seg.SetLocations(r, phi)
}

// Analyse captures one frame and segments it. The camera must deliver YUYV.
func (cam *Camera) Analyse() error {
	seg, err := cam.segmenter()
	if err != nil {
		return err
	}
	raw, err := cam.next()
	if err != nil {
		return err
	}
	return seg.Analyse(raw)
}

// Segmented returns the class map of the last analysed frame, one byte per
// pixel. It is nil until a segmentation call has been made.
func (cam *Camera) Segmented() []byte {
	if cam.seg == nil {
		return nil
	}
	return cam.seg.Segmented()
}

// Blobs returns the regions of class found by the last Analyse, largest
// first.
func (cam *Camera) Blobs(class int) ([]Blob, error) {
	seg, err := cam.segmenter()
	if err != nil {
		return nil, err
	}
	return seg.Blobs(class)
}
