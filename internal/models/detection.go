package models

import (
	"fmt"
	"math"
)

// RawDetection is one object found by the detector in one image.
// The bounding box is kept as four plain float columns in pixel space.
type RawDetection struct {
	Channel    string  `json:"channel" db:"channel"`
	ImagePath  string  `json:"image_path" db:"image_path"`
	Label      string  `json:"label" db:"label"`
	Confidence float64 `json:"confidence" db:"confidence"`
	XMin       float64 `json:"x_min" db:"x_min"`
	YMin       float64 `json:"y_min" db:"y_min"`
	XMax       float64 `json:"x_max" db:"x_max"`
	YMax       float64 `json:"y_max" db:"y_max"`
}

// Validate checks ranges of a detection record.
func (d RawDetection) Validate() error {
	if err := ValidateChannel(d.Channel); err != nil {
		return err
	}
	if d.ImagePath == "" {
		return fmt.Errorf("detection in %q: empty image path", d.Channel)
	}
	if d.Label == "" {
		return fmt.Errorf("detection in %s/%s: empty label", d.Channel, d.ImagePath)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("detection in %s/%s: confidence %v outside [0,1]", d.Channel, d.ImagePath, d.Confidence)
	}
	for _, v := range []float64{d.XMin, d.YMin, d.XMax, d.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("detection in %s/%s: invalid box coordinate %v", d.Channel, d.ImagePath, v)
		}
	}
	if d.XMin > d.XMax || d.YMin > d.YMax {
		return fmt.Errorf("detection in %s/%s: inverted box (%v,%v)-(%v,%v)",
			d.Channel, d.ImagePath, d.XMin, d.YMin, d.XMax, d.YMax)
	}
	return nil
}
