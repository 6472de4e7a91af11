package domain

// ComponentsAll 是组件过滤器的哨兵值，表示“全部组件”。
// 与显式列出每个组件不同，哨兵在新组件出现时自动覆盖它。
const ComponentsAll = "*"

// FilterState 表示过滤引擎的临时状态，由面板消费者拥有。
// 零值（NewFilterState）不过滤任何条目。
type FilterState struct {
	// SearchQuery 自由文本搜索，大小写不敏感的子串匹配
	SearchQuery string `json:"search_query,omitempty"`
	// ComponentsSentinel 为 true 时组件过滤器处于“全部”哨兵态，
	// 此时 SelectedComponents 被忽略
	ComponentsSentinel bool `json:"components_sentinel"`
	// SelectedComponents 显式选中的组件集合。
	// 注意：显式空集表示“全不选即全不显示”，而非“全部”
	SelectedComponents map[string]bool `json:"selected_components,omitempty"`
	// SelectedFunctions 选中的函数标识集合，空集在对照可用函数
	// 全集解析后等价于“全部”
	SelectedFunctions map[string]bool `json:"selected_functions,omitempty"`
	// AvailableFunctions 当前组件下可用函数的全集，
	// 用于识别“全选即不过滤”的快速路径
	AvailableFunctions []string `json:"available_functions,omitempty"`
	// SelectedLogTypes 选中的日志归类子集
	SelectedLogTypes map[LogClass]bool `json:"selected_log_types,omitempty"`
}

// NewFilterState 返回一个不过滤任何条目的状态：
// 组件哨兵为“全部”，全部六个日志归类选中，无搜索词。
func NewFilterState() FilterState {
	types := make(map[LogClass]bool, 6)
	for _, c := range AllLogClasses() {
		types[c] = true
	}
	return FilterState{
		ComponentsSentinel: true,
		SelectedLogTypes:   types,
	}
}
