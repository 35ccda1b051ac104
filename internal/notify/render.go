package notify

import (
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04"

// Render substitutes the {{time}}, {{expression}} and {{currentValue}}
// placeholders into a notification template. Unknown placeholders are left
// untouched.
func Render(template string, now time.Time, expression, currentValue string) string {
	out := strings.ReplaceAll(template, "{{time}}", now.Format(timeLayout))
	out = strings.ReplaceAll(out, "{{expression}}", expression)
	out = strings.ReplaceAll(out, "{{currentValue}}", currentValue)
	return out
}
