package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	app "github.com/etitcombe/jpconnect"
)

// printR formats v the way PHP's print_r does, with map keys sorted.
func printR(v interface{}) string {
	var b strings.Builder
	writePrintR(&b, v, 0)
	return b.String()
}

func writePrintR(b *strings.Builder, v interface{}, indent int) {
	switch val := v.(type) {
	case app.Options:
		writeArray(b, map[string]interface{}(val), indent)
	case map[string]interface{}:
		writeArray(b, val, indent)
	case []interface{}:
		m := make(map[string]interface{}, len(val))
		for i, item := range val {
			m[strconv.Itoa(i)] = item
		}
		writeArray(b, m, indent)
	case nil:
	case bool:
		if val {
			b.WriteString("1")
		}
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'f', -1, 64))
	case string:
		b.WriteString(val)
	default:
		fmt.Fprint(b, val)
	}
}

func writeArray(b *strings.Builder, m map[string]interface{}, indent int) {
	pad := strings.Repeat(" ", indent)
	b.WriteString("Array\n")
	b.WriteString(pad + "(\n")
	for _, k := range sortedKeys(m) {
		b.WriteString(pad + "    [" + k + "] => ")
		writePrintR(b, m[k], indent+8)
		b.WriteString("\n")
	}
	b.WriteString(pad + ")\n")
}

// sortedKeys orders numeric keys numerically before the other keys.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aErr := strconv.Atoi(keys[i])
		c, cErr := strconv.Atoi(keys[j])
		switch {
		case aErr == nil && cErr == nil:
			return a < c
		case aErr == nil:
			return true
		case cErr == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
