package browser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallExpr(t *testing.T) {
	expr, err := callExpr(`function(a, b) { return a; }`, `input[name="x"]`, 3)
	require.NoError(t, err)
	assert.Equal(t, `(function(a, b) { return a; })("input[name=\"x\"]", 3)`, expr)

	expr, err = callExpr(`function() { return 1; }`)
	require.NoError(t, err)
	assert.Equal(t, `(function() { return 1; })()`, expr)

	_, err = callExpr(`function(a) {}`, make(chan int))
	assert.Error(t, err)
}

func TestScriptsComposeWithApply(t *testing.T) {
	scripts := map[string]string{
		"info":      jsInfo,
		"unlock":    jsUnlock,
		"setValue":  jsSetValue,
		"select":    jsSelectOption,
		"setText":   jsSetText,
		"click":     jsClick,
		"closest":   jsClosest,
		"find":      jsFind,
		"typeahead": jsTypeaheadSelect,
		"clear":     jsClearAndFocus,
		"setDate":   jsSetDate,
	}
	for name, fn := range scripts {
		t.Run(name, func(t *testing.T) {
			assert.NotContains(t, fn, "%", "would corrupt the apply wrapper")
			wrapped := fmt.Sprintf(jsApply, fn)
			assert.True(t, strings.HasPrefix(wrapped, "function(sel)"))
			assert.Contains(t, wrapped, fn)
		})
	}
}

func TestElementSelector(t *testing.T) {
	e := &element{ref: "abc-1"}
	assert.Equal(t, `[data-guestfill-ref="abc-1"]`, e.selector())
}
