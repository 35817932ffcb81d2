package vitrine

import (
	"fmt"
	"math"
)

// FormatFileSize renders bytes in decimal units the way users expect
// (e.g. "5 MB", "10.6 MB").
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1000)))
	if i >= len(units) {
		i = len(units) - 1
	}
	size := float64(bytes) / math.Pow(1000, float64(i))
	if size == math.Trunc(size) {
		return fmt.Sprintf("%d %s", int64(size), units[i])
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
