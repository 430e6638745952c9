package toolcall

import (
	"fmt"
	"strings"

	"rhythm/functions"
)

type resultKind int

const (
	kindSuccess resultKind = iota
	kindValidation
	kindFailed
	kindPremium
)

type classified struct {
	kind     resultKind
	message  string
	features []string
}

// classify inspects a resolved tool result. Typed registry results and plain
// maps with the same keys are understood; anything else is a success.
func classify(v any) classified {
	switch r := v.(type) {
	case *functions.Result:
		if r == nil {
			return classified{kind: kindSuccess}
		}
		return classifyResult(*r)
	case functions.Result:
		return classifyResult(r)
	case map[string]any:
		return classifyMap(r)
	}
	return classified{kind: kindSuccess}
}

func classifyResult(r functions.Result) classified {
	switch {
	case len(r.ValidationErrors) > 0:
		return classified{kind: kindValidation, message: strings.Join(r.ValidationErrors, "; ")}
	case r.PremiumRequired:
		return classified{kind: kindPremium, features: r.PremiumFeatures}
	case r.Error != "":
		return classified{kind: kindFailed, message: r.Error}
	}
	return classified{kind: kindSuccess}
}

func classifyMap(m map[string]any) classified {
	if msgs := stringList(m["validationErrors"]); len(msgs) > 0 {
		return classified{kind: kindValidation, message: strings.Join(msgs, "; ")}
	}
	if truthy(m["premium_required"]) {
		return classified{kind: kindPremium, features: stringList(m["premiumFeatures"])}
	}
	if e, ok := m["error"]; ok && !isNil(e) {
		if s, ok := e.(string); !ok || s != "" {
			return classified{kind: kindFailed, message: fmt.Sprint(e)}
		}
	}
	return classified{kind: kindSuccess}
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if l != "" {
			return []string{l}
		}
	}
	return nil
}
