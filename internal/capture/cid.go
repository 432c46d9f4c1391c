package capture

import (
	"strings"
	"unicode"
)

// Well-known V4L2 control IDs (linux/v4l2-controls.h).
const (
	cidUserBase   = 0x00980900
	cidCameraBase = 0x009a0900

	CIDBrightness              = cidUserBase + 0
	CIDContrast                = cidUserBase + 1
	CIDSaturation              = cidUserBase + 2
	CIDHue                     = cidUserBase + 3
	CIDAutoWhiteBalance        = cidUserBase + 12
	CIDRedBalance              = cidUserBase + 14
	CIDBlueBalance             = cidUserBase + 15
	CIDGamma                   = cidUserBase + 16
	CIDExposure                = cidUserBase + 17
	CIDAutoGain                = cidUserBase + 18
	CIDGain                    = cidUserBase + 19
	CIDHFlip                   = cidUserBase + 20
	CIDVFlip                   = cidUserBase + 21
	CIDPowerLineFrequency      = cidUserBase + 24
	CIDHueAuto                 = cidUserBase + 25
	CIDWhiteBalanceTemperature = cidUserBase + 26
	CIDSharpness               = cidUserBase + 27
	CIDBacklightCompensation   = cidUserBase + 28

	CIDExposureAuto         = cidCameraBase + 1
	CIDExposureAbsolute     = cidCameraBase + 2
	CIDExposureAutoPriority = cidCameraBase + 3
	CIDPanAbsolute          = cidCameraBase + 8
	CIDTiltAbsolute         = cidCameraBase + 9
	CIDFocusAbsolute        = cidCameraBase + 10
	CIDFocusAuto            = cidCameraBase + 12
	CIDZoomAbsolute         = cidCameraBase + 13
)

// Stable keywords for the controls callers most often script against. These
// stay the same across drivers that spell the display name differently.
var controlKeywords = map[uint32]string{
	CIDBrightness:              "brightness",
	CIDContrast:                "contrast",
	CIDSaturation:              "saturation",
	CIDHue:                     "hue",
	CIDAutoWhiteBalance:        "white_balance_automatic",
	CIDRedBalance:              "red_balance",
	CIDBlueBalance:             "blue_balance",
	CIDGamma:                   "gamma",
	CIDExposure:                "exposure",
	CIDAutoGain:                "gain_automatic",
	CIDGain:                    "gain",
	CIDHFlip:                   "horizontal_flip",
	CIDVFlip:                   "vertical_flip",
	CIDPowerLineFrequency:      "power_line_frequency",
	CIDHueAuto:                 "hue_automatic",
	CIDWhiteBalanceTemperature: "white_balance_temperature",
	CIDSharpness:               "sharpness",
	CIDBacklightCompensation:   "backlight_compensation",
	CIDExposureAuto:            "exposure_auto",
	CIDExposureAbsolute:        "exposure_absolute",
	CIDExposureAutoPriority:    "exposure_auto_priority",
	CIDPanAbsolute:             "pan_absolute",
	CIDTiltAbsolute:            "tilt_absolute",
	CIDFocusAbsolute:           "focus_absolute",
	CIDFocusAuto:               "focus_automatic",
	CIDZoomAbsolute:            "zoom_absolute",
}

// ControlName returns the keyword for a control: the well-known keyword for
// its ID, otherwise the driver's display name in lower snake case
// ("White Balance, Auto" becomes "white_balance_auto").
func ControlName(id uint32, display string) string {
	if kw, ok := controlKeywords[id]; ok {
		return kw
	}
	return normalizeName(display)
}

func normalizeName(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(unicode.ToLower(r))
		} else {
			sep = true
		}
	}
	return b.String()
}
