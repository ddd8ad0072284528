package normalizer

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"researchshell/pkg/researchtypes"
)

// GenericStepLabel is used when a progress frame has no usable step.
const GenericStepLabel = "Progress update:"

// StepLabel turns a step value into a display label. Numbers (and numeric
// strings) become "Step N:", other text is capitalized ("search" -> "Search:"),
// anything else falls back to GenericStepLabel. Only finite numbers count as
// numeric, so "inf" or "NaN" are treated as text.
func StepLabel(step gjson.Result) string {
	switch step.Type {
	case gjson.Number:
		return numericLabel(step.Float())
	case gjson.String:
		text := strings.TrimSpace(step.String())
		if text == "" {
			return GenericStepLabel
		}
		if n, err := strconv.ParseFloat(text, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
			return numericLabel(n)
		}
		return capitalize(text) + ":"
	default:
		return GenericStepLabel
	}
}

func numericLabel(n float64) string {
	return "Step " + strconv.FormatFloat(n, 'f', -1, 64) + ":"
}

func capitalize(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	return string(unicode.ToUpper(r)) + text[size:]
}

// NormalizeReferences accepts a single reference object, an array of them, or
// nothing, and always returns an ordered, non-nil slice. Array entries that are
// not objects are skipped; missing fields get placeholders.
func NormalizeReferences(refs gjson.Result) []researchtypes.Reference {
	out := make([]researchtypes.Reference, 0)
	switch {
	case refs.IsObject():
		out = append(out, referenceFrom(refs))
	case refs.IsArray():
		refs.ForEach(func(_, value gjson.Result) bool {
			if value.IsObject() {
				out = append(out, referenceFrom(value))
			}
			return true
		})
	}
	return out
}

func referenceFrom(obj gjson.Result) researchtypes.Reference {
	ref := researchtypes.Reference{
		URL:        strings.TrimSpace(obj.Get("url").String()),
		ExactQuote: strings.TrimSpace(obj.Get("exactQuote").String()),
	}
	if ref.URL == "" {
		ref.URL = researchtypes.ReferencePlaceholderURL
	}
	if ref.ExactQuote == "" {
		ref.ExactQuote = researchtypes.ReferencePlaceholderQuote
	}
	return ref
}

// normalizeEvaluation reads {reason, definitive}. Definitive may arrive as a
// boolean or as "true"/"false"; anything else counts as not definitive.
func normalizeEvaluation(eval gjson.Result) *researchtypes.Evaluation {
	if !eval.IsObject() {
		return nil
	}

	out := &researchtypes.Evaluation{Reason: eval.Get("reason").String()}
	definitive := eval.Get("definitive")
	switch definitive.Type {
	case gjson.True, gjson.False:
		out.Definitive = definitive.Bool()
	case gjson.String:
		if b, err := strconv.ParseBool(strings.TrimSpace(definitive.String())); err == nil {
			out.Definitive = b
		}
	}
	return out
}
