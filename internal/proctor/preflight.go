package proctor

import (
	"fmt"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Minimum viewport accepted by the preflight check.
const (
	MinViewportWidth  = 1024
	MinViewportHeight = 600
)

// CheckPreflight validates the candidate environment. The returned error
// wraps ErrPreflightFailed and names the first failing check.
func CheckPreflight(report model.PreflightReport, allowedDevices []string) error {
	class := strings.ToLower(strings.TrimSpace(report.DeviceClass))
	allowed := false
	for _, d := range allowedDevices {
		if strings.EqualFold(strings.TrimSpace(d), class) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: device class %q not allowed", ErrPreflightFailed, report.DeviceClass)
	}
	if !report.FullscreenSupported {
		return fmt.Errorf("%w: full-screen is not supported", ErrPreflightFailed)
	}
	if report.ViewportWidth < MinViewportWidth || report.ViewportHeight < MinViewportHeight {
		return fmt.Errorf("%w: viewport %dx%d below %dx%d", ErrPreflightFailed,
			report.ViewportWidth, report.ViewportHeight, MinViewportWidth, MinViewportHeight)
	}
	return nil
}
