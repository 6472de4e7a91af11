// Package filter 实现从（缓冲区, 过滤状态）到有序过滤视图的纯投影。
// 投影不修改输入，保持输入的相对顺序，对同样的输入总是产生同样的输出。
package filter

import (
	"strings"

	"github.com/oriys/lumen/internal/domain"
)

// Apply 对条目序列应用过滤状态，返回通过全部匹配规则的子序列。
//
// 当所有过滤器都处于“不过滤”状态时直接返回输入切片本身
// （恒等快速路径），调用方不得修改返回值。
func Apply(entries []domain.LogEntry, state domain.FilterState) []domain.LogEntry {
	if isIdentity(state) {
		return entries
	}

	query := strings.ToLower(strings.TrimSpace(state.SearchQuery))
	functionsOff := functionFilterOff(state)
	typesOff := logTypeFilterOff(state)

	out := make([]domain.LogEntry, 0, len(entries))
	for _, e := range entries {
		if query != "" && !matchesQuery(e, query) {
			continue
		}
		if !state.ComponentsSentinel && !state.SelectedComponents[e.Component()] {
			continue
		}
		if !functionsOff && !state.SelectedFunctions[domain.NormalizeFunctionPath(e.FunctionPath)] {
			continue
		}
		if !typesOff && !state.SelectedLogTypes[e.Class()] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// isIdentity 判定过滤状态是否不排除任何条目。
func isIdentity(state domain.FilterState) bool {
	return strings.TrimSpace(state.SearchQuery) == "" &&
		state.ComponentsSentinel &&
		functionFilterOff(state) &&
		logTypeFilterOff(state)
}

// functionFilterOff 判定函数过滤器是否等价于“全部”。
// 空选择集视为全部；选择集对照可用函数全集恰好全选时也视为全部。
func functionFilterOff(state domain.FilterState) bool {
	if len(state.SelectedFunctions) == 0 {
		return true
	}
	if len(state.AvailableFunctions) == 0 {
		return false
	}
	for _, fn := range state.AvailableFunctions {
		if !state.SelectedFunctions[fn] {
			return false
		}
	}
	return true
}

// logTypeFilterOff 判定日志归类过滤器是否全选（快速路径）。
func logTypeFilterOff(state domain.FilterState) bool {
	for _, c := range domain.AllLogClasses() {
		if !state.SelectedLogTypes[c] {
			return false
		}
	}
	return true
}

// matchesQuery 对消息、函数路径、请求标识和错误信息
// 做大小写不敏感的子串匹配，任一字段命中即通过。
func matchesQuery(e domain.LogEntry, query string) bool {
	return strings.Contains(strings.ToLower(e.Message), query) ||
		strings.Contains(strings.ToLower(e.FunctionPath), query) ||
		strings.Contains(strings.ToLower(e.RequestID), query) ||
		strings.Contains(strings.ToLower(e.ErrorMessage), query)
}
