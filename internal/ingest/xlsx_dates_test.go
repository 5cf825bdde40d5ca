package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDateFormat(t *testing.T) {
	for _, code := range []string{"yyyy-mm-dd", "d/m/yy h:mm", "[$-409]mmmm d, yyyy", "[h]:mm:ss", "hh:mm AM/PM"} {
		assert.True(t, isDateFormat(code), code)
	}
	for _, code := range []string{"General", "#,##0.00", "0%", `"days" 0`, "[Red]0.00", `\d0`, "$#,##0_);($#,##0)", "0.00E+00"} {
		assert.False(t, isDateFormat(code), code)
	}
}
