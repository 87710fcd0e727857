package security

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hitoshi/musicroom/internal/model"
)

// ParseReorder はリソースIDから並び順への対応表を型付きの値に変換する。
// キーは正の整数、値は0以上の整数（JSON数値または数値文字列）でなければならない。
// 不正な項目はすべてまとめて1つのValidationErrorとして返す。
func ParseReorder(raw map[string]json.RawMessage) (map[int64]int, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	orders := make(map[int64]int, len(raw))
	var problems []string

	for _, k := range keys {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil || id <= 0 {
			problems = append(problems, fmt.Sprintf("%q: resource id must be a positive integer", k))
			continue
		}

		order, ok := parseOrder(raw[k])
		if !ok {
			problems = append(problems, fmt.Sprintf("%q: order must be a non-negative integer", k))
			continue
		}
		orders[id] = order
	}

	if len(problems) > 0 {
		return nil, model.NewAggregatedValidationError(problems)
	}
	return orders, nil
}

func parseOrder(value json.RawMessage) (int, bool) {
	if strings.TrimSpace(string(value)) == "null" {
		return 0, false
	}

	var n int
	if err := json.Unmarshal(value, &n); err == nil {
		return n, n >= 0
	}

	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, n >= 0
}
